package collector

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSignKnownVector(t *testing.T) {
	signer := NewSigner("api_secret")
	params := Params{
		"string": "string",
		"array":  []string{"elem1", "elem2"},
	}
	assert.Equal(t, "4be4a4f92f57e12b543a2a5f2f5897b6", signer.Sign(params))
}

func TestSignDeterministic(t *testing.T) {
	signer := NewSigner("s3cret")
	params := Params{
		"from_date": "2020-01-01",
		"to_date":   "2020-01-07",
		"event":     []string{"signup", "purchase"},
		"api_key":   "key",
	}
	first := signer.Sign(params)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, signer.Sign(params.Clone()))
	}
}

func TestSignArrayOrderMatters(t *testing.T) {
	signer := NewSigner("s3cret")
	a := signer.Sign(Params{"event": []string{"signup", "purchase"}})
	b := signer.Sign(Params{"event": []string{"purchase", "signup"}})
	assert.NotEqual(t, a, b)
}

func TestSignDependsOnSecret(t *testing.T) {
	params := Params{"from_date": "2020-01-01"}
	assert.NotEqual(t, NewSigner("one").Sign(params), NewSigner("two").Sign(params))
}
