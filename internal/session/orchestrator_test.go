package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YueHua46/ziniao-webdriver-template/internal/control"
	"github.com/YueHua46/ziniao-webdriver-template/internal/driver"
	"github.com/YueHua46/ziniao-webdriver-template/pkg/models"
)

type fakeHandle struct {
	mu        sync.Mutex
	navigated []string
	quits     int
}

func (h *fakeHandle) Navigate(url string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.navigated = append(h.navigated, url)
	return nil
}

func (h *fakeHandle) WaitReady(time.Duration) error { return nil }

func (h *fakeHandle) ElementTextX(string, time.Duration) (string, error) { return "", nil }

func (h *fakeHandle) WaitPresentX(string, time.Duration) error { return nil }

func (h *fakeHandle) Quit() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.quits++
	return nil
}

func (h *fakeHandle) quitCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.quits
}

// fakeLifecycle maps profile keys to scripted start replies and records every
// stop call.
type fakeLifecycle struct {
	mu     sync.Mutex
	starts map[string]control.StartReply
	stops  []string
}

func (f *fakeLifecycle) StartBrowser(_ context.Context, key string, _ control.StartOptions) control.StartReply {
	f.mu.Lock()
	defer f.mu.Unlock()
	if reply, ok := f.starts[key]; ok {
		return reply
	}
	return control.StartReply{Reply: control.Reply{Outcome: control.OutcomeVendorFailure, StatusCode: 42}}
}

func (f *fakeLifecycle) StopBrowser(_ context.Context, storeID string) control.Reply {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops = append(f.stops, storeID)
	return control.Reply{Outcome: control.OutcomeSuccess}
}

func (f *fakeLifecycle) stopped() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.stops...)
}

type fakeAttacher struct {
	err     error
	handles sync.Map // storeID -> *fakeHandle
}

func (f *fakeAttacher) Attach(res *models.StartResult, _ bool) (driver.Handle, error) {
	if f.err != nil {
		return nil, f.err
	}
	h := &fakeHandle{}
	f.handles.Store(res.StoreID(), h)
	return h, nil
}

func (f *fakeAttacher) handle(storeID string) *fakeHandle {
	v, ok := f.handles.Load(storeID)
	if !ok {
		return nil
	}
	return v.(*fakeHandle)
}

type fakeGate struct {
	check   func(expectedIP string) (bool, error)
	confirm func(url string) bool
}

func (g *fakeGate) CheckEgressIP(_ driver.Handle, expectedIP string) (bool, error) {
	if g.check == nil {
		return true, nil
	}
	return g.check(expectedIP)
}

func (g *fakeGate) ConfirmDetectionPage(_ driver.Handle, url string) bool {
	if g.confirm == nil {
		return true
	}
	return g.confirm(url)
}

func startOK(res models.StartResult) control.StartReply {
	return control.StartReply{
		Reply:  control.Reply{Outcome: control.OutcomeSuccess},
		Result: &res,
	}
}

func profile(name, oauth string) models.BrowserProfile {
	return models.BrowserProfile{BrowserName: name, BrowserOauth: oauth}
}

func TestOpenStoreSuccessReturnsCanonicalID(t *testing.T) {
	ctl := &fakeLifecycle{starts: map[string]control.StartReply{
		"tok-1": startOK(models.StartResult{
			BrowserOauth:    "canonical-1",
			CoreType:        models.CoreTypeChromium,
			IP:              "1.2.3.4",
			IPDetectionPage: "https://check.example",
			LauncherPage:    "https://launch.example",
		}),
	}}
	att := &fakeAttacher{}
	o := NewOrchestrator(ctl, att, &fakeGate{}, 0, zerolog.Nop())

	sess, err := o.OpenStore(context.Background(), "MyStore", []models.BrowserProfile{profile("MyStore", "tok-1")}, false)

	require.NoError(t, err)
	assert.Equal(t, "canonical-1", sess.StoreID)
	assert.Equal(t, "MyStore", sess.StoreName)
	assert.Empty(t, ctl.stopped(), "no teardown on the success path")

	h := att.handle("canonical-1")
	require.NotNil(t, h)
	assert.Contains(t, h.navigated, "https://launch.example")
}

func TestOpenStoreLookupIsCaseInsensitive(t *testing.T) {
	ctl := &fakeLifecycle{starts: map[string]control.StartReply{
		"tok-1": startOK(models.StartResult{
			BrowserOauth:    "canonical-1",
			IPDetectionPage: "https://check.example",
		}),
	}}
	o := NewOrchestrator(ctl, &fakeAttacher{}, &fakeGate{}, 0, zerolog.Nop())

	_, err := o.OpenStore(context.Background(), "mystore", []models.BrowserProfile{profile("MyStore", "tok-1")}, false)

	require.NoError(t, err)
}

func TestOpenStoreDistinguishesNotFoundFromEmptyList(t *testing.T) {
	o := NewOrchestrator(&fakeLifecycle{}, &fakeAttacher{}, &fakeGate{}, 0, zerolog.Nop())

	_, err := o.OpenStore(context.Background(), "any", nil, false)
	assert.ErrorIs(t, err, ErrEmptyProfileList)

	_, err = o.OpenStore(context.Background(), "missing", []models.BrowserProfile{profile("Other", "tok")}, false)
	assert.ErrorIs(t, err, ErrProfileNotFound)
}

func TestOpenStoreStartFailureNeedsNoTeardown(t *testing.T) {
	ctl := &fakeLifecycle{} // every start fails
	o := NewOrchestrator(ctl, &fakeAttacher{}, &fakeGate{}, 0, zerolog.Nop())

	_, err := o.OpenStore(context.Background(), "MyStore", []models.BrowserProfile{profile("MyStore", "tok-1")}, false)

	require.Error(t, err)
	assert.Empty(t, ctl.stopped())
}

func TestOpenStoreAttachFailureStopsRemoteSession(t *testing.T) {
	ctl := &fakeLifecycle{starts: map[string]control.StartReply{
		"tok-1": startOK(models.StartResult{BrowserOauth: "canonical-1"}),
	}}
	att := &fakeAttacher{err: driver.ErrDriverMissing}
	o := NewOrchestrator(ctl, att, &fakeGate{}, 0, zerolog.Nop())

	_, err := o.OpenStore(context.Background(), "MyStore", []models.BrowserProfile{profile("MyStore", "tok-1")}, false)

	assert.ErrorIs(t, err, driver.ErrDriverMissing)
	assert.Equal(t, []string{"canonical-1"}, ctl.stopped(), "stopBrowser exactly once with the canonical id")
}

func TestOpenStoreIPMismatchTearsDown(t *testing.T) {
	ctl := &fakeLifecycle{starts: map[string]control.StartReply{
		"tok-1": startOK(models.StartResult{BrowserOauth: "canonical-1", IP: "1.2.3.4"}),
	}}
	att := &fakeAttacher{}
	gate := &fakeGate{check: func(string) (bool, error) { return false, nil }}
	o := NewOrchestrator(ctl, att, gate, 0, zerolog.Nop())

	_, err := o.OpenStore(context.Background(), "MyStore", []models.BrowserProfile{profile("MyStore", "tok-1")}, true)

	assert.ErrorIs(t, err, ErrIPCheckFailed)
	assert.Equal(t, []string{"canonical-1"}, ctl.stopped())
	assert.Equal(t, 1, att.handle("canonical-1").quitCount())
}

func TestOpenStoreMissingDetectionPageIsUnrecoverable(t *testing.T) {
	ctl := &fakeLifecycle{starts: map[string]control.StartReply{
		"tok-1": startOK(models.StartResult{BrowserOauth: "canonical-1"}), // no IPDetectionPage
	}}
	att := &fakeAttacher{}
	o := NewOrchestrator(ctl, att, &fakeGate{}, 0, zerolog.Nop())

	_, err := o.OpenStore(context.Background(), "MyStore", []models.BrowserProfile{profile("MyStore", "tok-1")}, false)

	assert.ErrorIs(t, err, ErrDetectionPageUnavailable)
	assert.Equal(t, []string{"canonical-1"}, ctl.stopped())
	assert.Equal(t, 1, att.handle("canonical-1").quitCount())
}

func TestOpenStoreRecoversGatePanic(t *testing.T) {
	ctl := &fakeLifecycle{starts: map[string]control.StartReply{
		"tok-1": startOK(models.StartResult{BrowserOauth: "canonical-1", IP: "1.2.3.4"}),
	}}
	att := &fakeAttacher{}
	gate := &fakeGate{check: func(string) (bool, error) { panic("cdp connection lost") }}
	o := NewOrchestrator(ctl, att, gate, 0, zerolog.Nop())

	_, err := o.OpenStore(context.Background(), "MyStore", []models.BrowserProfile{profile("MyStore", "tok-1")}, true)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected automation fault")
	assert.Equal(t, []string{"canonical-1"}, ctl.stopped())
	assert.Equal(t, 1, att.handle("canonical-1").quitCount())
}

func TestOpenStoresBatchIsolation(t *testing.T) {
	ctl := &fakeLifecycle{starts: map[string]control.StartReply{
		"tok-a": startOK(models.StartResult{BrowserOauth: "id-a", IP: "ip-a"}),
		"tok-b": startOK(models.StartResult{BrowserOauth: "id-b", IP: "ip-b"}),
		"tok-c": startOK(models.StartResult{BrowserOauth: "id-c", IP: "ip-c"}),
	}}
	att := &fakeAttacher{}
	gate := &fakeGate{check: func(expectedIP string) (bool, error) {
		if expectedIP == "ip-b" {
			panic("fault during ip validation")
		}
		return true, nil
	}}
	o := NewOrchestrator(ctl, att, gate, 2, zerolog.Nop())

	profiles := []models.BrowserProfile{
		profile("StoreA", "tok-a"),
		profile("StoreB", "tok-b"),
		profile("StoreC", "tok-c"),
	}
	sessions, err := o.OpenStores(context.Background(), []string{"StoreA", "StoreB", "StoreC"}, profiles, true)

	require.NoError(t, err)
	require.Len(t, sessions, 2)
	var names []string
	for _, s := range sessions {
		names = append(names, s.StoreName)
	}
	assert.ElementsMatch(t, []string{"StoreA", "StoreC"}, names)
	assert.Equal(t, []string{"id-b"}, ctl.stopped(), "only the faulted store is torn down")
}

func TestOpenStoresSelectsRequestedSubset(t *testing.T) {
	ctl := &fakeLifecycle{starts: map[string]control.StartReply{
		"tok-a": startOK(models.StartResult{BrowserOauth: "id-a", IPDetectionPage: "https://check.example"}),
	}}
	o := NewOrchestrator(ctl, &fakeAttacher{}, &fakeGate{}, 0, zerolog.Nop())

	profiles := []models.BrowserProfile{
		profile("StoreA", "tok-a"),
		profile("StoreB", "tok-b"),
	}
	sessions, err := o.OpenStores(context.Background(), []string{"storea", "Unknown"}, profiles, false)

	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "StoreA", sessions[0].StoreName)
}

func TestOpenStoresReportsUnrecoverableAfterJoin(t *testing.T) {
	ctl := &fakeLifecycle{starts: map[string]control.StartReply{
		"tok-a": startOK(models.StartResult{BrowserOauth: "id-a", IPDetectionPage: "https://check.example"}),
		"tok-b": startOK(models.StartResult{BrowserOauth: "id-b"}), // no detection page
	}}
	o := NewOrchestrator(ctl, &fakeAttacher{}, &fakeGate{}, 0, zerolog.Nop())

	profiles := []models.BrowserProfile{
		profile("StoreA", "tok-a"),
		profile("StoreB", "tok-b"),
	}
	sessions, err := o.OpenStores(context.Background(), []string{"StoreA", "StoreB"}, profiles, false)

	assert.ErrorIs(t, err, ErrDetectionPageUnavailable)
	require.Len(t, sessions, 1, "healthy siblings still complete and are returned")
	assert.Equal(t, "StoreA", sessions[0].StoreName)
}

func TestOpenStoresEmptyProfileList(t *testing.T) {
	o := NewOrchestrator(&fakeLifecycle{}, &fakeAttacher{}, &fakeGate{}, 0, zerolog.Nop())

	sessions, err := o.OpenStores(context.Background(), []string{"StoreA"}, nil, false)

	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestCloseStoreStopsAndQuits(t *testing.T) {
	ctl := &fakeLifecycle{}
	o := NewOrchestrator(ctl, &fakeAttacher{}, &fakeGate{}, 0, zerolog.Nop())

	h := &fakeHandle{}
	o.CloseStore(context.Background(), &StoreSession{Driver: h, StoreID: "id-1", StoreName: "StoreA"})

	assert.Equal(t, []string{"id-1"}, ctl.stopped())
	assert.Equal(t, 1, h.quitCount())
}

func TestErrorKindsAreDistinct(t *testing.T) {
	assert.False(t, errors.Is(ErrProfileNotFound, ErrEmptyProfileList))
	assert.False(t, errors.Is(ErrIPCheckFailed, ErrDetectionPageUnavailable))
}
