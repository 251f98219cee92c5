package guard

import "testing"

func TestCheck_CleanContentPasses(t *testing.T) {
	cases := []string{
		"hello there",
		"soooo good",             // below the char threshold
		"no no no way",           // below the word threshold
		"look at https://go.dev", // links are fine in a messenger
		"v2.0 released 🎉",
	}
	for _, content := range cases {
		if res := Check(content); res.Blocked {
			t.Errorf("Check(%q) blocked with reason %q, want pass", content, res.Reason)
		}
	}
}

func TestCheck_CharFlood(t *testing.T) {
	res := Check("aaaaaaaaaa")
	if !res.Blocked || res.Reason != "char_flood" {
		t.Fatalf("Check = %+v, want char_flood block", res)
	}

	// Unicode floods count by rune, not byte.
	res = Check("ééééééééé")
	if !res.Blocked || res.Reason != "char_flood" {
		t.Fatalf("unicode flood: Check = %+v, want char_flood block", res)
	}
}

func TestCheck_WordFlood(t *testing.T) {
	res := Check("buy buy buy buy buy")
	if !res.Blocked || res.Reason != "word_flood" {
		t.Fatalf("Check = %+v, want word_flood block", res)
	}

	// Case-insensitive match.
	res = Check("Spam SPAM spam Spam spam")
	if !res.Blocked || res.Reason != "word_flood" {
		t.Fatalf("mixed case: Check = %+v, want word_flood block", res)
	}

	// Repeats must be consecutive.
	if res := Check("go run go test go vet go fmt go"); res.Blocked {
		t.Fatalf("non-consecutive repeats blocked: %+v", res)
	}
}
