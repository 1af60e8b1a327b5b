package paths

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const testTenant = "0b8f4c5e-6c1d-4c59-9d6c-0d3c7f2b9a11"

func TestNormalize(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want string
	}{
		{"plain", "/hook", "/hook"},
		{"casing and whitespace", "  /HoOk/Sub  ", "/hook/sub"},
		{"leading tenant segment", "/" + testTenant + "/hook", "/hook"},
		{"tenant without leading slash", testTenant + "/hook", "hook"},
		{"tenant only", "/" + testTenant, "/"},
		{"tenant with trailing slash", "/" + testTenant + "/", "/"},
		{"upper case tenant", "/0B8F4C5E-6C1D-4C59-9D6C-0D3C7F2B9A11/x", "/x"},
		{"empty", "", "/"},
		{"whitespace", "   ", "/"},
		{"trailing slash kept", "/hook/", "/hook/"},
		{"percent encoding kept", "/a%20b", "/a%20b"},
		{"other tenant untouched", "/11111111-1111-1111-1111-111111111111/x", "/11111111-1111-1111-1111-111111111111/x"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, Normalize(testTenant, tc.raw))
		})
	}
}

func TestNormalize_idempotent(t *testing.T) {
	inputs := []string{
		"/hook",
		" /Hook ",
		"/" + testTenant,
		"/" + testTenant + "/" + testTenant + "/x",
		testTenant + "/ /x",
		"",
		"/",
		"//double",
		testTenant,
	}
	for _, raw := range inputs {
		once := Normalize(testTenant, raw)
		require.Equal(t, once, Normalize(testTenant, once), "input %q", raw)
	}
}

func TestNormalize_emptyTenant(t *testing.T) {
	require.Equal(t, "/abc", Normalize("", " /ABC"))
	require.Equal(t, "/", Normalize("", ""))
}
