// Package nodegraph implements the deterministic node-graph execution
// engine (G1): nodes packed by type into per-phase, per-partition blocks,
// executed in topologically ordered phases with intra-phase parallelism
// and overlap of the terminal partition with the next phase. Grounded on
// src/ion/graph/{NodeHierarchy.h,BaseNodeRegistry.h}.
package nodegraph

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/ionforge/ioncore/ionerr"
	"github.com/ionforge/ioncore/scheduler"
)

// GraphID identifies one graph within a Hierarchy.
type GraphID uint32

// MaxPhases bounds the number of topologically ordered phases a Hierarchy
// tracks, matching the template parameter in NodeHierarchy<MaxPhases>.
const MaxPhases = 8

// Partition selects one of the two subsets within a phase: 0 holds regular
// nodes, 1 holds terminal ("final") nodes that may overlap with the next
// phase.
const (
	PartitionRegular  = 0
	PartitionFinal    = 1
	partitionCount    = 2
)

// EntryPoint runs every node of one type in one (phase, partition) block.
// blockBytes packs N nodes of the registered type contiguously; userData is
// opaque caller state threaded through. It may itself call sched.ParallelFor
// over its own elements.
type EntryPoint func(blockBytes []byte, userData any, sched *scheduler.Scheduler)

type typeOps struct {
	elemSize   int
	entry      EntryPoint
	debugEntry EntryPoint
}

type typeBlock struct {
	typeKey  uint32
	elemSize int
	bytes    []byte
	graphIDs []GraphID
}

func (b *typeBlock) count() int {
	if b.elemSize == 0 {
		return 0
	}
	return len(b.bytes) / b.elemSize
}

type nodeRef struct {
	typeKey   uint32
	partition int
	index     int
	valid     bool
}

type graphInfo struct {
	nodes [MaxPhases]nodeRef
}

// Hierarchy stores every graph's nodes, organized by phase and partition.
// Mutation (Reserve/Add/Remove) is single-writer during the build phase;
// Run is read-only over the hierarchy's own bookkeeping (§5).
type Hierarchy struct {
	registry map[uint32]*typeOps

	// phases[p][k] is the set of type-blocks for phase p, partition k.
	phases [MaxPhases][partitionCount][]*typeBlock
	// typeToBlockIndex[p][k][typeKey] -> index into phases[p][k]
	typeToBlockIndex [MaxPhases][partitionCount]map[uint32]int

	graphs map[GraphID]*graphInfo

	debug bool

	// pending1 accumulates the goroutines running phase p's partition-1
	// work, which may still be in flight when phase p+1 begins (§4.8).
	pending1 sync.WaitGroup
}

// New constructs an empty Hierarchy.
func New() *Hierarchy {
	h := &Hierarchy{registry: make(map[uint32]*typeOps), graphs: make(map[GraphID]*graphInfo)}
	for p := 0; p < MaxPhases; p++ {
		for k := 0; k < partitionCount; k++ {
			h.typeToBlockIndex[p][k] = make(map[uint32]int)
		}
	}
	return h
}

// SetDebug toggles whether Run invokes each type's debug (sequential) entry
// point instead of its normal (possibly internally-parallel) one.
func (h *Hierarchy) SetDebug(v bool) { h.debug = v }

// typeKey packs (groupID, typeID) as the spec's (group_id<<8)|type_id.
func typeKey(groupID, typeID uint8) uint32 {
	return uint32(groupID)<<8 | uint32(typeID)
}

// TypeHandle is a typed view over one registered node type, giving
// generic Add/Get/Remove without runtime reflection on the hot path.
type TypeHandle[T any] struct {
	h   *Hierarchy
	key uint32
}

// RegisterType records a node type's entry points and element size, and
// returns a typed handle for Add/Get/Remove.
func RegisterType[T any](h *Hierarchy, groupID, typeID uint8, entry, debugEntry EntryPoint) *TypeHandle[T] {
	key := typeKey(groupID, typeID)
	var zero T
	h.registry[key] = &typeOps{elemSize: int(unsafe.Sizeof(zero)), entry: entry, debugEntry: debugEntry}
	return &TypeHandle[T]{h: h, key: key}
}

// Reserve widens per-graph bookkeeping for graphID; phaseCount/offset are
// accepted for API parity with reserve(graph_id, phase_count, offset) but
// the Go implementation lazily grows per-graph state, so only graphID
// registration is required here.
func (h *Hierarchy) Reserve(graphID GraphID, phaseCount int, offset int) {
	if _, ok := h.graphs[graphID]; !ok {
		h.graphs[graphID] = &graphInfo{}
	}
}

func (h *Hierarchy) blockFor(phase, partition int, key uint32, elemSize int) *typeBlock {
	idx, ok := h.typeToBlockIndex[phase][partition][key]
	if ok {
		return h.phases[phase][partition][idx]
	}
	b := &typeBlock{typeKey: key, elemSize: elemSize}
	h.phases[phase][partition] = append(h.phases[phase][partition], b)
	h.typeToBlockIndex[phase][partition][key] = len(h.phases[phase][partition]) - 1
	return b
}

// Add appends one T-sized node to phase's matching type-block (partition 1
// if isFinal else 0), recording the element's index in the graph's
// per-phase slot and growing the block's graphIDs, per §4.8.
func (th *TypeHandle[T]) Add(graphID GraphID, phase int, isFinal bool, value T) (int, error) {
	gi, ok := th.h.graphs[graphID]
	if !ok {
		return 0, fmt.Errorf("nodegraph: unknown graph %d: %w", graphID, ionerr.ErrInvalidArgument)
	}
	partition := PartitionRegular
	if isFinal {
		partition = PartitionFinal
	}
	ops := th.h.registry[th.key]
	b := th.h.blockFor(phase, partition, th.key, ops.elemSize)

	raw := unsafe.Slice((*byte)(unsafe.Pointer(&value)), ops.elemSize)
	b.bytes = append(b.bytes, raw...)
	b.graphIDs = append(b.graphIDs, graphID)
	index := b.count() - 1

	gi.nodes[phase] = nodeRef{typeKey: th.key, partition: partition, index: index, valid: true}
	return index, nil
}

// Get returns a pointer into the stored bytes for graphID's node in phase,
// or nil if it holds no node of this type in that phase/partition.
func (th *TypeHandle[T]) Get(graphID GraphID, phase int, isFinal bool) *T {
	gi, ok := th.h.graphs[graphID]
	if !ok {
		return nil
	}
	ref := gi.nodes[phase]
	wantPartition := PartitionRegular
	if isFinal {
		wantPartition = PartitionFinal
	}
	if !ref.valid || ref.typeKey != th.key || ref.partition != wantPartition {
		return nil
	}
	idx, ok := th.h.typeToBlockIndex[phase][ref.partition][th.key]
	if !ok {
		return nil
	}
	b := th.h.phases[phase][ref.partition][idx]
	ops := th.h.registry[th.key]
	off := ref.index * ops.elemSize
	return (*T)(unsafe.Pointer(&b.bytes[off]))
}

// Remove swaps the target element with the block's last element, fixes up
// the displaced element's graph back-pointer, shrinks the block, and drops
// the type-to-block mapping if the block becomes empty. Matches §4.8 and
// the swap-remove consistency property (§8).
func (th *TypeHandle[T]) Remove(graphID GraphID, phase int, isFinal bool) error {
	gi, ok := th.h.graphs[graphID]
	if !ok {
		return fmt.Errorf("nodegraph: unknown graph %d: %w", graphID, ionerr.ErrInvalidArgument)
	}
	wantPartition := PartitionRegular
	if isFinal {
		wantPartition = PartitionFinal
	}
	ref := gi.nodes[phase]
	if !ref.valid || ref.typeKey != th.key || ref.partition != wantPartition {
		return fmt.Errorf("nodegraph: no node to remove: %w", ionerr.ErrInvalidState)
	}

	idx := th.h.typeToBlockIndex[phase][wantPartition][th.key]
	b := th.h.phases[phase][wantPartition][idx]
	ops := th.h.registry[th.key]
	last := b.count() - 1

	if ref.index != last {
		srcOff := last * ops.elemSize
		dstOff := ref.index * ops.elemSize
		copy(b.bytes[dstOff:dstOff+ops.elemSize], b.bytes[srcOff:srcOff+ops.elemSize])

		displacedGraph := b.graphIDs[last]
		b.graphIDs[ref.index] = displacedGraph
		if dgi, ok := th.h.graphs[displacedGraph]; ok {
			dref := dgi.nodes[phase]
			dref.index = ref.index
			dgi.nodes[phase] = dref
		}
	}
	b.bytes = b.bytes[:last*ops.elemSize]
	b.graphIDs = b.graphIDs[:last]

	gi.nodes[phase] = nodeRef{}

	if b.count() == 0 {
		delete(th.h.typeToBlockIndex[phase][wantPartition], th.key)
		blocks := th.h.phases[phase][wantPartition]
		for i, blk := range blocks {
			if blk == b {
				th.h.phases[phase][wantPartition] = append(blocks[:i], blocks[i+1:]...)
				for key, j := range th.h.typeToBlockIndex[phase][wantPartition] {
					if j > i {
						th.h.typeToBlockIndex[phase][wantPartition][key] = j - 1
					}
				}
				break
			}
		}
	}
	return nil
}

// Clear drops every node of every graph from the hierarchy.
func (h *Hierarchy) Clear() {
	for p := 0; p < MaxPhases; p++ {
		for k := 0; k < partitionCount; k++ {
			h.phases[p][k] = nil
			h.typeToBlockIndex[p][k] = make(map[uint32]int)
		}
	}
	h.graphs = make(map[GraphID]*graphInfo)
}

// graphIDsIn returns the owning-graph list of a (phase, partition) type
// block for key, or nil if that block does not exist.
func (h *Hierarchy) graphIDsIn(phase, partition int, key uint32) []GraphID {
	idx, ok := h.typeToBlockIndex[phase][partition][key]
	if !ok {
		return nil
	}
	return h.phases[phase][partition][idx].graphIDs
}
