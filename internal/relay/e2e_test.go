package relay

import (
	"context"
	"net/http/httptest"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/rjsadow/camrelay/internal/camera"
	"github.com/rjsadow/camrelay/internal/radio"
	"github.com/rjsadow/camrelay/internal/staging"
)

// memDriver is a radio.Driver that associates instantly.
type memDriver struct {
	mu      sync.Mutex
	known   []radio.Network
	visible []string
	status  radio.Status
}

func newMemDriver() *memDriver {
	return &memDriver{
		known: []radio.Network{
			{ID: "0", SSID: homeSSID},
			{ID: "1", SSID: cameraSSID},
		},
		visible: []string{homeSSID, cameraSSID},
	}
}

func (d *memDriver) KnownNetworks(context.Context) ([]radio.Network, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]radio.Network(nil), d.known...), nil
}

func (d *memDriver) Scan(context.Context) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.visible...), nil
}

func (d *memDriver) Select(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, n := range d.known {
		if n.ID == id {
			d.status = radio.Status{Associated: true, SSID: n.SSID}
		}
	}
	return nil
}

func (d *memDriver) Reassociate(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.status = radio.Status{Associated: true, SSID: d.known[0].SSID}
	return nil
}

func (d *memDriver) Status(context.Context) (radio.Status, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status, nil
}

// harness wires the real controller, camera client and staging store.
type harness struct {
	radio  *radio.Controller
	cam    *fakeCamera
	store  *staging.Store
	dest   *fakeRemote
	client *camera.Client
}

func newHarness() *harness {
	h := &harness{
		radio: radio.NewController(newMemDriver(), radio.Options{
			ConnectAttempts: 2,
			InitialBackoff:  time.Millisecond,
			Logger:          discardLogger(),
		}),
		cam:  newFakeCamera(),
		dest: newFakeRemote(),
	}

	srv := httptest.NewServer(h.cam)
	DeferCleanup(srv.Close)

	var err error
	h.client, err = camera.NewClient(camera.Options{
		BaseURL:        srv.URL,
		Folders:        []string{lockedDir},
		InitialBackoff: time.Millisecond,
		Location:       time.UTC,
		Logger:         discardLogger(),
	})
	Expect(err).NotTo(HaveOccurred())

	h.store, err = staging.NewStore(GinkgoT().TempDir(), 0, discardLogger())
	Expect(err).NotTo(HaveOccurred())
	return h
}

func (h *harness) fetcher(onDone func(FetchReport)) *Fetcher {
	return NewFetcher(h.radio, h.client, h.store, FetcherOptions{
		CameraSSID: cameraSSID,
		Interval:   time.Hour,
		Logger:     discardLogger(),
		OnPassDone: onDone,
	})
}

func (h *harness) pusher(onDone func(PushReport)) *Pusher {
	return NewPusher(h.radio, h.store, h.dest, PusherOptions{
		CameraSSID: cameraSSID,
		Interval:   time.Hour,
		Logger:     discardLogger(),
		OnPassDone: onDone,
	})
}

func (h *harness) staged() []string {
	videos, err := h.store.LoadVideos()
	Expect(err).NotTo(HaveOccurred())
	names := make([]string, 0, len(videos))
	for _, v := range videos {
		names = append(names, v.Name)
	}
	return names
}

func run(fn func(context.Context)) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer GinkgoRecover()
		fn(ctx)
		close(done)
	}()
	DeferCleanup(func() {
		cancel()
		Eventually(done).Should(BeClosed())
	})
}

var _ = Describe("Relay", func() {
	var h *harness

	BeforeEach(func() {
		h = newHarness()
	})

	Describe("fetching", func() {
		It("stages a single recording, advances the cursor and then finds nothing new", func() {
			const name = "20240315083000_0001.TS"
			h.cam.add(name, "frame data")

			passes := make(chan FetchReport, 4)
			run(h.fetcher(func(r FetchReport) { passes <- r }).Run)

			// Startup pass happens before the radio is on the camera.
			Eventually(passes).Should(Receive(HaveField("Ran", BeFalse())))

			Expect(h.radio.Connect(context.Background(), cameraSSID)).To(Succeed())

			var report FetchReport
			Eventually(passes).Should(Receive(&report))
			Expect(report.Err).NotTo(HaveOccurred())
			Expect(report.Staged).To(Equal(1))
			Expect(report.Deleted).To(Equal(1))

			Expect(h.staged()).To(ConsistOf(name))
			Expect(h.store.Cursor()).To(Equal(name))
			Expect(h.cam.remaining()).To(BeEmpty())

			second := h.fetcher(nil).Pass(context.Background())
			Expect(second.Ran).To(BeTrue())
			Expect(second.Listed).To(BeZero())
			Expect(second.Staged).To(BeZero())
			Expect(h.staged()).To(ConsistOf(name))
		})

		It("does nothing while the radio is on the home network", func() {
			h.cam.add("20240315083000_0001.TS", "frame data")
			Expect(h.radio.Connect(context.Background(), homeSSID)).To(Succeed())

			report := h.fetcher(nil).Pass(context.Background())
			Expect(report.Ran).To(BeFalse())
			Expect(h.cam.listCount()).To(BeZero())
			Expect(h.staged()).To(BeEmpty())
		})
	})

	Describe("pushing", func() {
		stage := func(names ...string) {
			Expect(h.radio.Connect(context.Background(), cameraSSID)).To(Succeed())
			for _, n := range names {
				h.cam.add(n, "payload "+n)
			}
			report := h.fetcher(nil).Pass(context.Background())
			Expect(report.Err).NotTo(HaveOccurred())
			Expect(report.Staged).To(Equal(len(names)))
			Expect(h.radio.Connect(context.Background(), homeSSID)).To(Succeed())
		}

		It("uploads one recording and then two more", func() {
			p := h.pusher(nil)

			stage("20240315083000_0001.TS")
			first := p.Pass(context.Background())
			Expect(first.Count(OutcomeSuccess)).To(Equal(1))
			Expect(h.staged()).To(BeEmpty())

			stage("20240315083100_0002.TS", "20240315083200_0003.TS")
			second := p.Pass(context.Background())
			Expect(second.Count(OutcomeSuccess)).To(Equal(2))
			Expect(h.staged()).To(BeEmpty())

			Expect(h.dest.uploadCount()).To(Equal(3))
			Expect(h.dest.has("20240315083000_0001.TS")).To(BeTrue())
			Expect(h.dest.has("20240315083200_0003.TS")).To(BeTrue())
		})

		It("deletes the local copy when the remote already has the object", func() {
			const name = "20240315083000_0001.TS"
			h.dest.objects[name] = []byte("uploaded earlier")
			stage(name)

			report := h.pusher(nil).Pass(context.Background())
			Expect(report.Outcomes).To(ConsistOf(HaveField("Status", OutcomeSkipped)))
			Expect(h.dest.uploadCount()).To(BeZero())
			Expect(h.staged()).To(BeEmpty())
		})

		It("uploads as soon as the radio joins a non-camera network", func() {
			Expect(h.radio.Connect(context.Background(), cameraSSID)).To(Succeed())
			h.cam.add("20240315083000_0001.TS", "frame data")
			Expect(h.fetcher(nil).Pass(context.Background()).Staged).To(Equal(1))

			run(h.pusher(nil).Run)
			Consistently(h.dest.uploadCount, 50*time.Millisecond).Should(BeZero())

			Expect(h.radio.Connect(context.Background(), homeSSID)).To(Succeed())
			Eventually(h.dest.uploadCount).Should(Equal(1))
			Eventually(h.staged).Should(BeEmpty())
		})
	})

	Describe("switching radios", func() {
		It("moves recordings from the camera to the remote store unattended", func() {
			h.cam.add("20240315083000_0001.TS", "one")
			h.cam.add("20240315083100_0002.TS", "two")

			sw := NewSwitcher(h.radio, SwitcherOptions{
				CameraSSID:    cameraSSID,
				HomeSSID:      homeSSID,
				ProbeInterval: time.Hour,
				Logger:        discardLogger(),
			})
			run(sw.Run)
			run(h.fetcher(sw.OnFetchDone).Run)
			run(h.pusher(sw.OnPushDone).Run)

			Expect(h.radio.Connect(context.Background(), cameraSSID)).To(Succeed())

			Eventually(h.dest.uploadCount).Should(Equal(2))
			Eventually(h.radio.CurrentNetwork).Should(Equal(homeSSID))
			Expect(h.cam.remaining()).To(BeEmpty())
			Eventually(h.staged).Should(BeEmpty())
		})
	})
})
