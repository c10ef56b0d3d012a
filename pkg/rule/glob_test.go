package rule

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhairs/nserver/pkg/name"
)

type stubResolver struct {
	base name.Name
	ok   bool
}

func (s stubResolver) BaseDomain(name.Name) (name.Name, bool) { return s.base, s.ok }

func TestCompileGlobValidation(t *testing.T) {
	_, err := CompileGlob("")
	assert.Error(t, err)

	_, err = CompileGlob("a.**.**.b")
	assert.Error(t, err, "adjacent ** must be rejected")

	_, err = CompileGlob("{base_domain}.hello.{base_domain}")
	assert.Error(t, err, "{base_domain} may appear at most once")

	_, err = CompileGlob("www.*.com.au")
	assert.NoError(t, err)

	_, err = CompileGlob("www.*.com.au.")
	assert.NoError(t, err, "a trailing root dot is accepted, as in name.Parse")

	_, err = CompileGlob(".")
	assert.Error(t, err)
}

func TestGlobStarMatchesExactlyOneLabel(t *testing.T) {
	g, err := CompileGlob("www.*.com.au")
	require.NoError(t, err)

	assert.True(t, g.Match(name.MustParse("www.foo.com.au"), false, nil))
	assert.False(t, g.Match(name.MustParse("www.com.au"), false, nil), "* must not match zero labels")
	assert.False(t, g.Match(name.MustParse("www.a.b.com.au"), false, nil), "* must not match two labels")
}

func TestGlobDoubleStarMatchesOneOrMoreGreedy(t *testing.T) {
	g, err := CompileGlob("**.com.au")
	require.NoError(t, err)

	assert.True(t, g.Match(name.MustParse("foo.com.au"), false, nil))
	assert.True(t, g.Match(name.MustParse("a.b.c.com.au"), false, nil))
	assert.False(t, g.Match(name.MustParse("com.au"), false, nil), "** must not match zero labels")
}

func TestGlobDoubleStarBacktracks(t *testing.T) {
	// "**" must give back labels to let the trailing literal match.
	g, err := CompileGlob("**.www.example.com")
	require.NoError(t, err)

	assert.True(t, g.Match(name.MustParse("a.b.www.example.com"), false, nil))
	assert.False(t, g.Match(name.MustParse("a.b.example.com"), false, nil))
}

func TestGlobBaseDomainToken(t *testing.T) {
	g, err := CompileGlob("hello.{base_domain}")
	require.NoError(t, err)

	r := stubResolver{base: name.MustParse("foo.com.au"), ok: true}
	assert.True(t, g.Match(name.MustParse("hello.foo.com.au"), false, r))
	assert.False(t, g.Match(name.MustParse("hello.foo.com"), false, r))

	failing := stubResolver{ok: false}
	assert.False(t, g.Match(name.MustParse("hello.foo.com.au"), false, failing),
		"unresolvable base domain makes the rule non-matching")
}

func TestGlobCaseSensitivity(t *testing.T) {
	g, err := CompileGlob("WWW.example.com")
	require.NoError(t, err)

	assert.True(t, g.Match(name.MustParse("www.EXAMPLE.com"), false, nil))
	assert.False(t, g.Match(name.MustParse("www.EXAMPLE.com"), true, nil))
}
