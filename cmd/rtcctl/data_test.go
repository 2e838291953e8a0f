package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patrickwarner/rtcadserve/internal/models"
)

type fakeWriter struct {
	slots  []models.Slot
	failOn string
}

func (f *fakeWriter) UpsertSlot(ctx context.Context, s models.Slot) error {
	if s.ID == f.failOn {
		return errors.New("write failed")
	}
	f.slots = append(f.slots, s)
	return nil
}

func TestReadSlots(t *testing.T) {
	slots, err := readSlots(strings.NewReader(`[{"id":"top","publisher_id":3,"attributes":{"WIDTH":"300"}}]`), "-")
	require.NoError(t, err)
	require.Len(t, slots, 1)
	assert.Equal(t, 3, slots[0].PublisherID)
	w, ok := slots[0].Attribute("width")
	assert.True(t, ok)
	assert.Equal(t, "300", w)

	_, err = readSlots(strings.NewReader(`[{"publisher_id":3}]`), "-")
	assert.Error(t, err)
	_, err = readSlots(strings.NewReader(`{`), "-")
	assert.Error(t, err)
}

func TestImportSlots(t *testing.T) {
	w := &fakeWriter{failOn: "c"}
	n, err := importSlots(context.Background(), w, []models.Slot{
		models.NewSlot("a", 1, nil),
		models.NewSlot("b", 1, nil),
		models.NewSlot("c", 1, nil),
	})
	assert.Error(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, w.slots, 2)
}

func TestTriggerReload(t *testing.T) {
	var method string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	require.NoError(t, triggerReload(context.Background(), srv.URL+"/reload"))
	assert.Equal(t, http.MethodPost, method)

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "reload failed", http.StatusInternalServerError)
	}))
	defer failing.Close()
	assert.Error(t, triggerReload(context.Background(), failing.URL))
}

func TestEventsCommand_RequiresID(t *testing.T) {
	_, err := execute(t, "", "events")
	assert.Error(t, err)
}
