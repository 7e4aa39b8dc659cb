package worker

import (
	"context"
	"shardq/internal/domain"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDemoHandler(t *testing.T) {
	h := demoHandler()
	ctx := context.Background()

	assert.NoError(t, h(ctx, domain.Message{ID: "ok", Payload: []byte("hello")}))

	flaky := domain.Message{ID: "flaky", Payload: []byte("demo.fail please")}
	assert.Error(t, h(ctx, flaky))
	assert.Error(t, h(ctx, flaky))
	assert.NoError(t, h(ctx, flaky))
}
