package interests

import "testing"

func TestValid(t *testing.T) {
	for _, tag := range []string{"Yoga", "Hiking", "Chess", "Programming"} {
		if !Valid(tag) {
			t.Errorf("expected %q to be a valid tag", tag)
		}
	}
	for _, tag := range []string{"", "Fitness", "yoga", "Skydiving"} {
		if Valid(tag) {
			t.Errorf("expected %q to be rejected", tag)
		}
	}
}

func TestAllCoversValidSet(t *testing.T) {
	total := 0
	for _, c := range All() {
		if c.Name == "" {
			t.Error("category without a name")
		}
		for _, tag := range c.Tags {
			if !Valid(tag) {
				t.Errorf("listed tag %q not valid", tag)
			}
			total++
		}
	}
	if total == 0 {
		t.Fatal("taxonomy is empty")
	}
}
