package voice

import "testing"

func TestSpeakableText(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "drops emoji and markdown markers",
			in:   "Sure 😊 **drink** water / rest.",
			want: "Sure drink water rest.",
		},
		{
			name: "keeps markdown link label and removes url",
			in:   "Read [the leaflet](https://example.com/leaflet) first.",
			want: "Read the leaflet first.",
		},
		{
			name: "removes code blocks",
			in:   "```\nignored\n```\nThen rest ✅",
			want: "Then rest",
		},
		{
			name: "list items become sentences",
			in:   "Try this:\n- drink water\n- sleep early\n1. call your doctor",
			want: "Try this: drink water. sleep early. call your doctor",
		},
		{
			name: "only emoji",
			in:   "👍",
			want: "",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := SpeakableText(tc.in)
			if got != tc.want {
				t.Fatalf("SpeakableText(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}
