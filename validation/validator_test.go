package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type claimRequest struct {
	PlayerID         string   `validate:"notblank"`
	ExternalUsername string   `validate:"required"`
	Names            []string `validate:"max=2"`
}

func TestStruct(t *testing.T) {
	require.NoError(t, Struct(claimRequest{PlayerID: "p1", ExternalUsername: "foo"}))

	err := Struct(claimRequest{PlayerID: "   ", Names: []string{"a", "b", "c"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PlayerID is required")
	assert.Contains(t, err.Error(), "ExternalUsername is required")
	assert.Contains(t, err.Error(), "Names must have at most 2 items")
}
