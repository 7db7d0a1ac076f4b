package sources

import "testing"

func TestClassify(t *testing.T) {
	cases := []struct {
		name   string
		text   string
		class  Classification
		marker string
	}{
		{
			name:   "captcha page",
			text:   "<html><body>Please complete the CAPTCHA to continue</body></html>",
			class:  ClassBlocked,
			marker: "captcha",
		},
		{
			name:   "human verification",
			text:   "Please verify you are human before proceeding",
			class:  ClassBlocked,
			marker: "verify you are human",
		},
		{
			name:   "access denied",
			text:   "Access Denied - you don't have permission",
			class:  ClassBlocked,
			marker: "access denied",
		},
		{
			name:   "empty listing",
			text:   "There are no upcoming matches for this competition.",
			class:  ClassNoData,
			marker: "no upcoming matches",
		},
		{
			name:   "odds placeholder",
			text:   "Odds will feature here once bookmakers price this market.",
			class:  ClassNoData,
			marker: "odds will feature here",
		},
		{
			name:  "ordinary page",
			text:  "Arsenal v Liverpool kicks off at 15:00",
			class: ClassUnknown,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			class, marker := Classify(tc.text)
			if class != tc.class {
				t.Fatalf("class = %d, want %d", class, tc.class)
			}
			if marker != tc.marker {
				t.Errorf("marker = %q, want %q", marker, tc.marker)
			}
		})
	}
}

// "too many requests" sits in both worlds; blocked must win over no-data.
func TestClassifyBlockedWinsOverNoData(t *testing.T) {
	text := "Too many requests. No upcoming matches to show."
	class, marker := Classify(text)
	if class != ClassBlocked {
		t.Fatalf("class = %d, want blocked", class)
	}
	if marker != "too many requests" {
		t.Errorf("marker = %q, want too many requests", marker)
	}
}
