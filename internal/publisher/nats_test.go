package publisher

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubjectToken(t *testing.T) {
	assert.Equal(t, "route-1", subjectToken("route-1"))
	assert.Equal(t, "Metrolink_Green", subjectToken("Metrolink Green"))
	assert.Equal(t, "42_1", subjectToken("42.1"))
	assert.Equal(t, "a_b", subjectToken("a/b"))
	assert.Equal(t, "_", subjectToken("  "))
	assert.Equal(t, "x__", subjectToken("x>*"))
}
