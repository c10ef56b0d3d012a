package rule

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhairs/nserver/pkg/name"
)

func TestStaticRuleMatch(t *testing.T) {
	r := NewStatic(name.MustParse("example.com"), NewTypeSet(dnsTypeA), nil, false)

	assert.True(t, r.Matches(Query{Name: name.MustParse("example.com"), Type: dnsTypeA}, nil))
	assert.False(t, r.Matches(Query{Name: name.MustParse("www.example.com"), Type: dnsTypeA}, nil))
	assert.False(t, r.Matches(Query{Name: name.MustParse("example.com"), Type: dnsTypeTXT}, nil))
}

func TestZoneRuleMatch(t *testing.T) {
	r := NewZone(name.MustParse("example.com"), AllTypes(), nil, false)

	assert.True(t, r.Matches(Query{Name: name.MustParse("example.com"), Type: dnsTypeA}, nil))
	assert.True(t, r.Matches(Query{Name: name.MustParse("www.example.com"), Type: dnsTypeA}, nil))
	assert.False(t, r.Matches(Query{Name: name.MustParse("notexample.com"), Type: dnsTypeA}, nil))
}

func TestRegexRuleMatch(t *testing.T) {
	re := regexp.MustCompile(`^hello\.[a-z]+\.com\.$`)
	r := NewRegex(re, NewTypeSet(dnsTypeTXT), nil, false)

	assert.True(t, r.Matches(Query{Name: name.MustParse("hello.foo.com"), Type: dnsTypeTXT}, nil))
	assert.False(t, r.Matches(Query{Name: name.MustParse("hello.foo.bar.com"), Type: dnsTypeTXT}, nil))
}

func TestTypeSetMembership(t *testing.T) {
	s := NewTypeSet(dnsTypeA, QTypeANY)
	assert.True(t, s.Contains(dnsTypeA))
	assert.True(t, s.Contains(QTypeANY))
	assert.False(t, s.Contains(dnsTypeTXT), "listing ANY does not widen the set")

	assert.True(t, AllTypes().Contains(dnsTypeTXT))
}

func TestMakeRuleHeuristic(t *testing.T) {
	r, err := MakeRule("example.com", AllTypes(), nil, false)
	require.NoError(t, err)
	assert.Equal(t, KindStatic, r.Kind)

	r, err = MakeRule("www.*.com", AllTypes(), nil, false)
	require.NoError(t, err)
	assert.Equal(t, KindGlob, r.Kind)

	r, err = MakeRule("hello.{base_domain}", AllTypes(), nil, false)
	require.NoError(t, err)
	assert.Equal(t, KindGlob, r.Kind)

	r, err = MakeRule(regexp.MustCompile(`^a\.b$`), AllTypes(), nil, false)
	require.NoError(t, err)
	assert.Equal(t, KindRegex, r.Kind)

	_, err = MakeRule("", AllTypes(), nil, false)
	assert.Error(t, err)
}

func TestContainerRuleUsesOuterMatcherKind(t *testing.T) {
	outer := NewZone(name.MustParse("example.com"), AllTypes(), nil, false)
	fake := fakeResolver
	c := NewContainer(outer, fake)

	assert.Equal(t, KindContainer, c.Kind)
	assert.True(t, c.Matches(Query{Name: name.MustParse("www.example.com"), Type: dnsTypeA}, nil))
	assert.False(t, c.Matches(Query{Name: name.MustParse("notexample.com"), Type: dnsTypeA}, nil))
	assert.Equal(t, fake, c.Delegate())
}

type fakeResolverType struct{}

func (fakeResolverType) Resolve(Query) (Response, bool, error) { return Response{}, false, nil }

var fakeResolver = fakeResolverType{}

const (
	dnsTypeA   = 1
	dnsTypeTXT = 16
)
