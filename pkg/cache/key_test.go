package cache

import (
	"net/url"
	"testing"
)

func TestKey_String(t *testing.T) {
	tests := []struct {
		name string
		key  Key
		want string
	}{
		{
			name: "resource only",
			key:  Key{Resource: "/keywords/"},
			want: "keywords",
		},
		{
			name: "nested resource",
			key:  Key{Resource: "users/1"},
			want: "users/1",
		},
		{
			name: "single param",
			key: Key{
				Resource: "/keywords/research/",
				Params:   url.Values{"country": []string{"de"}},
			},
			want: "keywords/research:country=de",
		},
		{
			name: "params sorted by name",
			key: Key{
				Resource: "/keywords/research/",
				Params: url.Values{
					"limit":   []string{"50"},
					"country": []string{"de"},
					"match":   []string{"broad"},
				},
			},
			want: "keywords/research:country=de:limit=50:match=broad",
		},
		{
			name: "repeated values keep order",
			key: Key{
				Resource: "/projects/7/keywords",
				Params:   url.Values{"tag": []string{"seo", "ads"}},
			},
			want: "projects/7/keywords:tag=seo,ads",
		},
		{
			name: "empty params map",
			key:  Key{Resource: "audit", Params: url.Values{}},
			want: "audit",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.key.String(); got != tt.want {
				t.Errorf("Key.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestKey_EquivalentParamsProduceSameKey(t *testing.T) {
	a := Key{Resource: "/serp", Params: url.Values{}}
	a.Params.Set("q", "go cache")
	a.Params.Set("page", "2")

	b := Key{Resource: "serp/", Params: url.Values{}}
	b.Params.Set("page", "2")
	b.Params.Set("q", "go cache")

	if a.String() != b.String() {
		t.Errorf("keys differ: %q vs %q", a.String(), b.String())
	}
}

func TestNewKey(t *testing.T) {
	tests := []struct {
		name  string
		pairs []string
		want  string
	}{
		{name: "no pairs", pairs: nil, want: "volume"},
		{name: "pairs", pairs: []string{"kw", "shoes", "country", "us"}, want: "volume:country=us:kw=shoes"},
		{name: "dangling name ignored", pairs: []string{"kw", "shoes", "country"}, want: "volume:kw=shoes"},
		{name: "repeated name", pairs: []string{"kw", "a", "kw", "b"}, want: "volume:kw=a,b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NewKey("/volume", tt.pairs...).String(); got != tt.want {
				t.Errorf("NewKey().String() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestKey_Determinism ensures same input always produces same key
func TestKey_Determinism(t *testing.T) {
	key := Key{
		Resource: "/keywords/research",
		Params: url.Values{
			"country":  []string{"de"},
			"language": []string{"de"},
			"limit":    []string{"100"},
			"seed":     []string{"laufschuhe"},
		},
	}

	first := key.String()
	for i := 0; i < 20; i++ {
		if got := key.String(); got != first {
			t.Errorf("iteration %d = %v, want %v (not deterministic)", i, got, first)
		}
	}
}
