package integration

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"logsentinel/internal/config"
	"logsentinel/internal/domain"
	"logsentinel/internal/notification"
	"logsentinel/internal/pipeline"
	storemem "logsentinel/internal/store/memory"
)

var _ = Describe("Log monitoring pipeline", func() {
	var s *stack

	AfterEach(func() {
		if s != nil {
			s.stop()
		}
	})

	Describe("Health and status", func() {
		It("should report healthy and running", func() {
			s = newStack(stackOptions{})
			s.start()

			status, _ := s.request(http.MethodGet, "/healthz", nil)
			Expect(status).To(Equal(http.StatusOK))

			Eventually(func() string {
				_, resp := s.request(http.MethodGet, "/v1/status", nil)
				var st pipeline.Status
				decode(resp, &st)
				return st.State
			}).Should(Equal(pipeline.StateRunning))
		})
	})

	Context("When a service breaches the error threshold", func() {
		var (
			mu       sync.Mutex
			received []notification.NotificationPayload
			hook     *httptest.Server
		)

		BeforeEach(func() {
			received = nil
			hook = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				body, _ := io.ReadAll(r.Body)
				var payload notification.NotificationPayload
				if err := json.Unmarshal(body, &payload); err == nil {
					mu.Lock()
					received = append(received, payload)
					mu.Unlock()
				}
				w.WriteHeader(http.StatusOK)
			}))
			DeferCleanup(hook.Close)

			s = newStack(stackOptions{webhookURL: hook.URL})
			s.start()

			status, resp := s.request(http.MethodPost, "/v1/dimensions", map[string]any{
				"service":      "payment-service",
				"owner":        "payments-team",
				"tier":         "tier-1",
				"effective_at": base.Add(-24 * time.Hour).Format(time.RFC3339),
			})
			Expect(status).To(Equal(http.StatusCreated), "%+v", resp.Error)
		})

		It("should fire exactly one enriched alert and notify once", func() {
			status, resp := s.request(http.MethodPost, "/v1/logs", errorBurst("payment-service", base, 60, 4*time.Second))
			Expect(status).To(Equal(http.StatusAccepted))

			var accepted struct {
				Accepted int `json:"accepted"`
			}
			decode(resp, &accepted)
			Expect(accepted.Accepted).To(Equal(60))

			s.drain()

			status, resp = s.request(http.MethodGet, "/v1/alerts?service=payment-service", nil)
			Expect(status).To(Equal(http.StatusOK))

			var alerts []domain.AlertRecord
			decode(resp, &alerts)
			Expect(alerts).To(HaveLen(1))
			Expect(alerts[0].RuleName).To(Equal("error_spike"))
			Expect(alerts[0].ObservedValue).To(BeNumerically("==", 60))
			Expect(alerts[0].Owner).To(Equal("payments-team"))
			Expect(alerts[0].WindowKey.Start.Equal(base)).To(BeTrue())

			status, _ = s.request(http.MethodGet, "/v1/alerts/"+alerts[0].ID, nil)
			Expect(status).To(Equal(http.StatusOK))

			Eventually(func() int {
				mu.Lock()
				defer mu.Unlock()
				return len(received)
			}).Should(Equal(1))
			mu.Lock()
			Expect(received[0].RuleName).To(Equal("error_spike"))
			Expect(received[0].Owner).To(Equal("payments-team"))
			mu.Unlock()

			status, resp = s.request(http.MethodGet, "/v1/windows/payment-service", nil)
			Expect(status).To(Equal(http.StatusOK))
			var windows []domain.WindowMetrics
			decode(resp, &windows)
			Expect(windows).To(HaveLen(1))
			Expect(windows[0].ErrorCount).To(BeNumerically("==", 60))
			Expect(windows[0].Tier).To(Equal("tier-1"))
		})

		It("should not alert on a quiet service", func() {
			quiet := errorBurst("search", base, 10, 10*time.Second)
			status, _ := s.request(http.MethodPost, "/v1/logs", quiet)
			Expect(status).To(Equal(http.StatusAccepted))

			s.drain()

			_, resp := s.request(http.MethodGet, "/v1/alerts", nil)
			var alerts []domain.AlertRecord
			decode(resp, &alerts)
			Expect(alerts).To(BeEmpty())

			_, resp = s.request(http.MethodGet, "/v1/windows/search", nil)
			var windows []domain.WindowMetrics
			decode(resp, &windows)
			Expect(windows).To(HaveLen(1))
			Expect(windows[0].Owner).To(Equal(domain.UnknownDimensionValue))
		})
	})

	Context("When invalid events arrive", func() {
		BeforeEach(func() {
			s = newStack(stackOptions{})
			s.start()
		})

		It("should quarantine each with the first failing reason", func() {
			noService := logEvent("e2", "", "ERROR", base, 100)
			badLevel := logEvent("e3", "checkout", "DEBUG", base, 100)
			badLatency := logEvent("e4", "checkout", "INFO", base, -5)
			future := logEvent("e5", "checkout", "INFO", time.Now().Add(time.Hour), 100)
			valid := logEvent("e6", "checkout", "INFO", base, 100)

			status, _ := s.request(http.MethodPost, "/v1/logs", []map[string]any{noService, badLevel, badLatency, future, valid})
			Expect(status).To(Equal(http.StatusAccepted))

			s.drain()

			_, resp := s.request(http.MethodGet, "/v1/quarantine", nil)
			var records []domain.QuarantineRecord
			decode(resp, &records)
			Expect(records).To(HaveLen(4))

			reasons := map[string]domain.ReasonCode{}
			for _, r := range records {
				reasons[r.Event.EventID] = r.Reason
			}
			Expect(reasons).To(Equal(map[string]domain.ReasonCode{
				"e2": domain.ReasonNullService,
				"e3": domain.ReasonInvalidLevel,
				"e4": domain.ReasonInvalidResponseTime,
				"e5": domain.ReasonFutureTimestamp,
			}))

			_, resp = s.request(http.MethodGet, "/v1/quarantine?reason=INVALID_LEVEL", nil)
			decode(resp, &records)
			Expect(records).To(HaveLen(1))

			_, resp = s.request(http.MethodGet, "/v1/status", nil)
			var st pipeline.Status
			decode(resp, &st)
			Expect(st.Quarantined).To(BeNumerically("==", 4))
			Expect(st.Processed).To(BeNumerically("==", 1))
		})
	})

	Context("When dimensions change mid-stream", func() {
		It("should enrich each event with the row effective at its own timestamp", func() {
			s = newStack(stackOptions{})
			s.start()

			changes := []map[string]any{
				{"service": "checkout", "owner": "team-a", "tier": "gold", "effective_at": base.Add(-time.Hour).Format(time.RFC3339)},
				{"service": "checkout", "owner": "team-b", "tier": "gold", "effective_at": base.Add(7 * time.Minute).Format(time.RFC3339)},
			}
			for _, c := range changes {
				status, _ := s.request(http.MethodPost, "/v1/dimensions", c)
				Expect(status).To(Equal(http.StatusCreated))
			}

			events := []map[string]any{
				logEvent("c1", "checkout", "INFO", base.Add(time.Minute), 100),
				logEvent("c2", "checkout", "INFO", base.Add(8*time.Minute), 100),
			}
			status, _ := s.request(http.MethodPost, "/v1/logs", events)
			Expect(status).To(Equal(http.StatusAccepted))

			s.drain()

			_, resp := s.request(http.MethodGet, "/v1/windows/checkout", nil)
			var windows []domain.WindowMetrics
			decode(resp, &windows)
			Expect(windows).To(HaveLen(2))
			Expect(windows[0].Owner).To(Equal("team-a"))
			Expect(windows[1].Owner).To(Equal("team-b"))
		})
	})

	Context("When late events arrive", func() {
		lateStream := []map[string]any{
			logEvent("l1", "inventory", "INFO", base.Add(time.Minute), 100),
			logEvent("l2", "inventory", "INFO", base.Add(8*time.Minute), 100),
			logEvent("l3", "inventory", "INFO", base.Add(2*time.Minute), 300),
		}

		It("should drop and count them by default", func() {
			s = newStack(stackOptions{})
			s.start()
			status, _ := s.request(http.MethodPost, "/v1/logs", lateStream)
			Expect(status).To(Equal(http.StatusAccepted))
			s.drain()

			_, resp := s.request(http.MethodGet, "/v1/windows/inventory", nil)
			var windows []domain.WindowMetrics
			decode(resp, &windows)
			Expect(windows).To(HaveLen(2))
			Expect(windows[0].TotalCount).To(BeNumerically("==", 1))
			Expect(windows[0].Revision).To(Equal(0))

			_, resp = s.request(http.MethodGet, "/v1/status", nil)
			var st pipeline.Status
			decode(resp, &st)
			Expect(st.DroppedLate).To(BeNumerically("==", 1))
		})

		It("should emit a revision under the merge policy", func() {
			s = newStack(stackOptions{latePolicy: config.LatePolicyMerge})
			s.start()
			status, _ := s.request(http.MethodPost, "/v1/logs", lateStream)
			Expect(status).To(Equal(http.StatusAccepted))
			s.drain()

			_, resp := s.request(http.MethodGet, "/v1/windows/inventory", nil)
			var windows []domain.WindowMetrics
			decode(resp, &windows)
			Expect(windows).To(HaveLen(2))
			Expect(windows[0].TotalCount).To(BeNumerically("==", 2))
			Expect(windows[0].Revision).To(Equal(1))
			Expect(*windows[0].AvgResponseTime).To(BeNumerically("==", 200))

			_, resp = s.request(http.MethodGet, "/v1/status", nil)
			var st pipeline.Status
			decode(resp, &st)
			Expect(st.MergedLate).To(BeNumerically("==", 1))
			Expect(st.DroppedLate).To(BeNumerically("==", 0))
		})
	})

	Context("When the pipeline restarts from a checkpoint", func() {
		It("should not alert twice for a replayed window", func() {
			checkpoints := storemem.NewCheckpointStore()

			first := newStack(stackOptions{checkpoints: checkpoints})
			first.start()
			burst := errorBurst("payment-service", base, 60, 4*time.Second)
			status, _ := first.request(http.MethodPost, "/v1/logs", burst)
			Expect(status).To(Equal(http.StatusAccepted))
			first.drain()
			Expect(checkpoints.Saves()).To(BeNumerically(">=", 1))

			_, resp := first.request(http.MethodGet, "/v1/alerts", nil)
			var alerts []domain.AlertRecord
			decode(resp, &alerts)
			Expect(alerts).To(HaveLen(1))

			// The replacement replays the same stream from offset zero.
			s = newStack(stackOptions{checkpoints: checkpoints})
			s.start()
			status, _ = s.request(http.MethodPost, "/v1/logs", burst)
			Expect(status).To(Equal(http.StatusAccepted))
			s.drain()

			_, resp = s.request(http.MethodGet, "/v1/alerts", nil)
			decode(resp, &alerts)
			Expect(alerts).To(BeEmpty())

			_, resp = s.request(http.MethodGet, "/v1/status", nil)
			var st pipeline.Status
			decode(resp, &st)
			Expect(st.Skipped).To(BeNumerically("==", 60))
		})
	})
})
