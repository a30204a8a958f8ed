package nodegraph

import (
	"github.com/ionforge/ioncore/scheduler"
)

// overlapTuningConstant divides partition 1's estimated node count to decide
// whether overlapping it with phase p+1 is worth a goroutine at all; below
// the threshold the scheduling overhead would dwarf the work saved, so it
// runs serially instead (§4.8's workload-estimate gate).
const overlapTuningConstant = 64

// Run executes every phase in order. Within a phase, partition 0 (regular
// nodes) is run to completion before phase p+1 begins; partition 1 (final
// nodes) is launched concurrently with phase p+1 and only joined at the end
// of Run when its estimated workload clears overlapTuningConstant, matching
// the phase-ordering and partition-overlap invariants of §4.8/§8. Smaller
// partition 1 workloads run synchronously, since the overlap itself isn't
// free.
func (h *Hierarchy) Run(userData any, sched *scheduler.Scheduler) {
	for p := 0; p < MaxPhases; p++ {
		if h.phaseEmpty(p) {
			continue
		}
		h.runPartition(p, PartitionRegular, userData, sched)

		if h.partitionEmpty(p, PartitionFinal) {
			continue
		}
		if estimate := h.partitionNodeCount(p, PartitionFinal) / overlapTuningConstant; estimate > 1 {
			h.pending1.Add(1)
			go func(phase int) {
				defer h.pending1.Done()
				h.runPartition(phase, PartitionFinal, userData, sched)
			}(p)
		} else {
			h.runPartition(p, PartitionFinal, userData, sched)
		}
	}
	h.pending1.Wait()
}

// partitionNodeCount sums the node count across every type-block in
// (phase, partition), the workload estimate the overlap gate is keyed on.
func (h *Hierarchy) partitionNodeCount(phase, partition int) int {
	n := 0
	for _, b := range h.phases[phase][partition] {
		n += b.count()
	}
	return n
}

func (h *Hierarchy) phaseEmpty(phase int) bool {
	return h.partitionEmpty(phase, PartitionRegular) && h.partitionEmpty(phase, PartitionFinal)
}

func (h *Hierarchy) partitionEmpty(phase, partition int) bool {
	return len(h.phases[phase][partition]) == 0
}

// runPartition dispatches every type-block in (phase, partition) through its
// registered entry point, running the blocks themselves in parallel when
// there's more than one (§4.8: "blocks within a partition may run
// concurrently with one another").
func (h *Hierarchy) runPartition(phase, partition int, userData any, sched *scheduler.Scheduler) {
	blocks := h.phases[phase][partition]
	if len(blocks) == 0 {
		return
	}
	if len(blocks) == 1 {
		h.runBlock(blocks[0], userData, sched)
		return
	}
	_ = sched.ParallelFor(0, len(blocks), partition, 1, func(i int) {
		h.runBlock(blocks[i], userData, sched)
	})
}

func (h *Hierarchy) runBlock(b *typeBlock, userData any, sched *scheduler.Scheduler) {
	ops, ok := h.registry[b.typeKey]
	if !ok {
		return
	}
	entry := ops.entry
	if h.debug && ops.debugEntry != nil {
		entry = ops.debugEntry
	}
	if entry == nil {
		return
	}
	entry(b.bytes, userData, sched)
}
