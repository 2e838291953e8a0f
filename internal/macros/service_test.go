package macros

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"

	"github.com/patrickwarner/rtcadserve/internal/models"
)

func TestService_ExpandForSlot(t *testing.T) {
	svc := NewServiceForTesting(zaptest.NewLogger(t), time.Second)
	cids := &fakeClientIDs{id: "amp-1"}
	p := svc.NewPageProvider(testPage, cids)

	out := svc.ExpandForSlot(context.Background(), p, testSlot(),
		"https://rtc.example.test/amp?pv=PAGEVIEWID&w=ATTR(width)&cid=ADCID&x=NOPE(1)")
	assert.Equal(t, "https://rtc.example.test/amp?pv=pv-123&w=300&cid=amp-1&x=NOPE(1)", out)
	assert.Equal(t, AdCIDScope, cids.scope)
	assert.Equal(t, AdCIDCookie, cids.cookie)
}

func TestService_ProvidersArePerPage(t *testing.T) {
	svc := NewServiceForTesting(zaptest.NewLogger(t), time.Second)
	other := models.Page{PageViewID: "pv-999"}

	a := svc.ExpandForSlot(context.Background(), svc.NewPageProvider(testPage, nil), testSlot(), "PAGEVIEWID")
	b := svc.ExpandForSlot(context.Background(), svc.NewPageProvider(other, nil), testSlot(), "PAGEVIEWID")
	assert.Equal(t, "pv-123", a)
	assert.Equal(t, "pv-999", b)
}

func TestService_NilClientIDsExpandEmpty(t *testing.T) {
	svc := NewServiceForTesting(zaptest.NewLogger(t), time.Second)
	out := svc.ExpandForSlot(context.Background(), svc.NewPageProvider(testPage, nil), testSlot(), "cid=ADCID")
	assert.Equal(t, "cid=", out)
}
