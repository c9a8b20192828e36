package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	_ "github.com/privadome/privadome-api/testing"
)

func TestDispatchRejectsUsageErrors(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, 2, dispatch(ctx, "frobnicate", nil))
	assert.Equal(t, 2, dispatch(ctx, "corestub", []string{"--no-such-flag"}))
	assert.Equal(t, 2, dispatch(ctx, "createsuperuser", []string{"--no-such-flag"}))
}
