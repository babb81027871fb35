/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package sequencer

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/go-logr/logr"
	ginkgo "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/dc-tec/platform-bootstrap/internal/logging"
)

func TestSequencer(t *testing.T) {
	RegisterFailHandler(ginkgo.Fail)
	ginkgo.RunSpecs(t, "Sequencer Suite")
}

var _ = ginkgo.Describe("Runner", func() {
	var (
		rc       *RunContext
		executed []string
		mu       sync.Mutex
	)

	record := func(name string) func(ctx context.Context, rc *RunContext) error {
		return func(ctx context.Context, rc *RunContext) error {
			mu.Lock()
			defer mu.Unlock()
			executed = append(executed, name)
			return nil
		}
	}

	indexOf := func(name string) int {
		mu.Lock()
		defer mu.Unlock()
		for i, n := range executed {
			if n == name {
				return i
			}
		}
		return -1
	}

	ginkgo.BeforeEach(func() {
		dir := ginkgo.GinkgoT().TempDir()
		runLog, err := logging.OpenRunLog(filepath.Join(dir, "run.log"), "suite-run")
		Expect(err).NotTo(HaveOccurred())
		ginkgo.DeferCleanup(func() { _ = runLog.Close() })

		rc = NewRunContext("hashicorp.lab", dir, nil, logr.Discard(), runLog)
		ginkgo.DeferCleanup(func() { _ = rc.Cleanup() })
		executed = nil
	})

	ginkgo.Context("with a diamond dependency graph", func() {
		// base feeds two siblings, which both feed apex.
		diamond := func(failLeft bool) []Stage {
			leftAction := record("left")
			if failLeft {
				leftAction = func(ctx context.Context, rc *RunContext) error {
					return errors.New("left broke")
				}
			}
			return []Stage{
				{Name: "apex", Requires: []string{"left", "right"}, Action: record("apex")},
				{Name: "left", Requires: []string{"base"}, Action: leftAction},
				{Name: "right", Requires: []string{"base"}, Action: record("right")},
				{Name: "base", Action: record("base")},
			}
		}

		ginkgo.It("runs every stage respecting the partial order", func() {
			report, err := NewRunner(logr.Discard()).Run(context.Background(), rc, diamond(false))
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Failed()).To(BeFalse())

			Expect(executed).To(HaveLen(4))
			Expect(indexOf("base")).To(BeNumerically("<", indexOf("left")))
			Expect(indexOf("base")).To(BeNumerically("<", indexOf("right")))
			Expect(indexOf("apex")).To(Equal(3))
		})

		ginkgo.It("halts at the first failure and leaves the rest pending", func() {
			report, err := NewRunner(logr.Discard()).Run(context.Background(), rc, diamond(true))
			Expect(err).To(MatchError(ContainSubstring("left broke")))

			base, ok := report.Result("base")
			Expect(ok).To(BeTrue())
			Expect(base.Status).To(Equal(StatusSucceeded))

			left, _ := report.Result("left")
			Expect(left.Status).To(Equal(StatusFailed))

			apex, _ := report.Result("apex")
			Expect(apex.Status).To(Equal(StatusPending))

			Expect(indexOf("apex")).To(Equal(-1))
		})
	})

	ginkgo.Context("reporting", func() {
		ginkgo.It("covers every declared stage exactly once", func() {
			stages := []Stage{
				{Name: "one", Action: record("one")},
				{Name: "two", Requires: []string{"one"}, Action: record("two")},
			}
			report, err := NewRunner(logr.Discard()).Run(context.Background(), rc, stages)
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Results).To(HaveLen(2))

			seen := map[string]int{}
			for _, result := range report.Results {
				seen[result.Name]++
				Expect(result.Duration).To(BeNumerically(">=", 0))
			}
			Expect(seen).To(Equal(map[string]int{"one": 1, "two": 1}))
		})
	})
})
