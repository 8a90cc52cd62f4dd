package keepalive

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"notebook-agent/pkg/culler"
	"notebook-agent/pkg/marker"
)

var _ = ginkgo.Describe("Activity guard with a file marker and the idle culler", func() {
	const poll = time.Minute

	var (
		dir     string
		path    string
		cfg     Config
		ticks   chan time.Time
		guard   *Guard
		watcher *culler.Watcher
		now     time.Time
	)

	start := func(w *workload) {
		var err error
		guard, err = Start(context.Background(), cfg, w, marker.NewFile(path),
			WithTicks(ticks),
			WithClock(func() time.Time { return t0 }),
			WithLogger(zap.New(zap.WriteTo(ginkgo.GinkgoWriter), zap.UseDevMode(true))))
		Expect(err).NotTo(HaveOccurred())
	}

	markerTime := func() (time.Time, error) {
		return marker.Read(path)
	}

	// tick ends the sampling window at minute i. The send returns once the loop has taken the
	// tick; Stop waits for the cycle to finish.
	tick := func(i int) {
		now = t0.Add(time.Duration(i) * poll)
		ticks <- now
	}

	decide := func(at time.Time) culler.Decision {
		watcher.Now = func() time.Time { return at }
		d, err := watcher.Check(context.Background())
		Expect(err).NotTo(HaveOccurred())
		return d
	}

	ginkgo.BeforeEach(func() {
		var err error
		dir, err = os.MkdirTemp("", "keepalive-scenario")
		Expect(err).NotTo(HaveOccurred())
		path = filepath.Join(dir, "run", "last-activity")
		cfg = Config{PollInterval: poll, BusyThreshold: 0.2, IdleTimeout: 15 * time.Minute}
		ticks = make(chan time.Time)
		watcher = &culler.Watcher{
			Policy: culler.Policy{IdleTimeout: cfg.IdleTimeout},
			Source: culler.FileSource(path),
			Since:  t0,
		}
	})

	ginkgo.AfterEach(func() {
		if guard != nil {
			guard.Stop()
		}
		Expect(os.RemoveAll(dir)).To(Succeed())
	})

	ginkgo.Context("when a training job keeps the cpu at 90% for 20 minutes", func() {
		ginkgo.It("refreshes the marker every cycle and is never culled", func() {
			start(steady(poll, 0.9))

			for i := 1; i <= 20; i++ {
				tick(i)
				Eventually(markerTime).Should(BeTemporally("==", now))

				d := decide(now.Add(30 * time.Second))
				Expect(d.Cull).To(BeFalse(), "culled at minute %d", i)
			}
			guard.Stop()
			Expect(guard.Status().Reports).To(Equal(int64(20)))
		})
	})

	ginkgo.Context("when the kernel only idles below the busy threshold", func() {
		ginkgo.It("never touches the marker and the session becomes eligible", func() {
			start(steady(poll, 0.1))

			for i := 1; i <= 16; i++ {
				tick(i)
			}
			guard.Stop()

			Expect(path).NotTo(BeAnExistingFile())
			Expect(guard.Status().Reports).To(BeZero())

			ginkgo.By("counting idle time from the session start")
			Expect(decide(t0.Add(15 * time.Minute)).Cull).To(BeFalse())
			Expect(decide(t0.Add(16 * time.Minute)).Cull).To(BeTrue())
		})
	})

	ginkgo.Context("when a job finishes after five busy minutes", func() {
		ginkgo.It("keeps the last busy minute as activity and is culled once the timeout passes", func() {
			start(&workload{poll: poll, utilization: []float64{0.9, 0.9, 0.9, 0.9, 0.9, 0.05}})

			for i := 1; i <= 21; i++ {
				tick(i)
			}
			guard.Stop()

			last, err := markerTime()
			Expect(err).NotTo(HaveOccurred())
			Expect(last).To(BeTemporally("==", t0.Add(5*time.Minute)))

			d := decide(t0.Add(20 * time.Minute))
			Expect(d.Idle).To(Equal(15 * time.Minute))
			Expect(d.Cull).To(BeFalse())
			Expect(decide(t0.Add(21 * time.Minute)).Cull).To(BeTrue())
		})
	})

	ginkgo.Context("when cpu accounting fails in the middle of a busy stretch", func() {
		ginkgo.It("skips the failed window and the stale marker can only expire", func() {
			start(&workload{poll: poll, utilization: []float64{0.9}, fails: map[int]bool{3: true}})

			for i := 1; i <= 5; i++ {
				tick(i)
			}
			guard.Stop()

			status := guard.Status()
			Expect(status.SampleErrors).To(Equal(int64(1)))
			Expect(status.Reports).To(Equal(int64(3)))
			last, err := markerTime()
			Expect(err).NotTo(HaveOccurred())
			Expect(last).To(BeTemporally("==", t0.Add(5*time.Minute)))
		})
	})
})
