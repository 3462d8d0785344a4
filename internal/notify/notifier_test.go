package notify

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/bithumbbot/internal/config"
)

type recordingSender struct {
	titles []string
}

func (r *recordingSender) Send(_ context.Context, title, _ string) error {
	r.titles = append(r.titles, title)
	return nil
}

func (r *recordingSender) Name() string { return "recording" }

func TestDefaultEventsPassEmittedTypes(t *testing.T) {
	// The app emits these event types; the default allow list must let
	// every one of them through or alerts vanish on a stock config.
	emitted := []string{"position_opened", "position_closed", "breaker_tripped"}

	rec := &recordingSender{}
	n := NewNotifier([]Sender{rec}, config.Defaults().Notify.Events, slog.Default())

	for _, ev := range emitted {
		assert.NoError(t, n.Notify(context.Background(), ev, ev, "body"))
	}
	assert.Equal(t, emitted, rec.titles)
}

func TestNotifyFiltersUnlistedEvents(t *testing.T) {
	rec := &recordingSender{}
	n := NewNotifier([]Sender{rec}, []string{"breaker_tripped"}, slog.Default())

	assert.NoError(t, n.Notify(context.Background(), "position_opened", "skip", "body"))
	assert.Empty(t, rec.titles)

	assert.NoError(t, n.Notify(context.Background(), "Breaker_Tripped", "pass", "body"))
	assert.Equal(t, []string{"pass"}, rec.titles)
}
