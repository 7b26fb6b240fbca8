// Package interests defines the fixed taxonomy of interest tags users can
// select for random matching. Tags are grouped into categories purely for
// client presentation; matching operates on the flat tag set.
package interests

// MaxPerUser is the maximum number of interest tags a user may carry into
// the live pool.
const MaxPerUser = 5

// Category groups related interest tags under a display name.
type Category struct {
	Name string   `json:"name"`
	Tags []string `json:"tags"`
}

// taxonomy is the fixed set of selectable interests. Matching treats tags as
// opaque strings; only membership in this set is enforced.
var taxonomy = []Category{
	{Name: "Fitness", Tags: []string{"Yoga", "Hiking", "Running", "Cycling", "Swimming"}},
	{Name: "Games", Tags: []string{"Chess", "Gaming", "Board Games", "Puzzles"}},
	{Name: "Arts", Tags: []string{"Music", "Painting", "Photography", "Writing", "Film"}},
	{Name: "Food", Tags: []string{"Cooking", "Baking", "Coffee"}},
	{Name: "Tech", Tags: []string{"Programming", "AI", "Gadgets"}},
	{Name: "Lifestyle", Tags: []string{"Travel", "Reading", "Gardening", "Fashion"}},
}

var valid map[string]bool

func init() {
	valid = make(map[string]bool)
	for _, c := range taxonomy {
		for _, tag := range c.Tags {
			valid[tag] = true
		}
	}
}

// All returns the full taxonomy for client display.
func All() []Category {
	out := make([]Category, len(taxonomy))
	copy(out, taxonomy)
	return out
}

// Valid reports whether tag belongs to the taxonomy.
func Valid(tag string) bool {
	return valid[tag]
}
