package budget

import (
	"fmt"

	"planmonitor/internal/chunk"
)

const (
	// ScheduleOverlap is the number of items consecutive batches share.
	ScheduleOverlap = 2
	// HoursPerChunk is the rough processing estimate per batch.
	HoursPerChunk = 2
)

// Schedule describes how a workload would be split into context-sized batches.
type Schedule struct {
	TotalItems          int     `json:"total_items"`
	BatchSize           int     `json:"batch_size"`
	Overlap             int     `json:"overlap"`
	ChunksCreated       int     `json:"chunks_created"`
	AvgChunkSize        float64 `json:"avg_chunk_size"`
	SessionEstimate     string  `json:"processing_session_estimate"`
	CheckpointFrequency string  `json:"checkpoint_frequency"`
	Strategy            string  `json:"strategy"`
}

// PlanSchedule sizes batches for totalItems against contextWindow and
// chunks the item range.
func PlanSchedule(g *Guard, totalItems, contextWindow int) (Schedule, error) {
	if totalItems < 0 {
		return Schedule{}, fmt.Errorf("total items must not be negative")
	}
	batch := g.OptimalBatchSize(totalItems, contextWindow)
	overlap := min(ScheduleOverlap, batch-1)

	items := make([]int, totalItems)
	for i := range items {
		items[i] = i
	}
	chunks, err := chunk.Chunk(items, batch, overlap)
	if err != nil {
		return Schedule{}, fmt.Errorf("chunk workload: %w", err)
	}

	var avg float64
	if len(chunks) > 0 {
		total := 0
		for _, c := range chunks {
			total += len(c)
		}
		avg = float64(total) / float64(len(chunks))
	}

	return Schedule{
		TotalItems:          totalItems,
		BatchSize:           batch,
		Overlap:             overlap,
		ChunksCreated:       len(chunks),
		AvgChunkSize:        avg,
		SessionEstimate:     fmt.Sprintf("%d hours", len(chunks)*HoursPerChunk),
		CheckpointFrequency: "every_chunk",
		Strategy:            "chunked_memory_safe",
	}, nil
}
