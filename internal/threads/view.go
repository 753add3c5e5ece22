package threads

import "github.com/haasonsaas/strand/pkg/models"

// LatestSummarySeq returns the sequence of the most recent summary message
// in the log, or 0 when the thread has never been compacted. The summary's
// sequence is the compaction marker: everything at or before it has been
// folded into the summary, everything after it is live context.
func LatestSummarySeq(msgs []*models.Message) int64 {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Kind == models.KindSummary {
			return msgs[i].Seq
		}
	}
	return 0
}

// ModelWindow returns the messages a model call should see: the latest
// summary (when the thread has one) followed by every model-visible
// message after it. Raw history behind the marker stays in the log for
// audit but is excluded from the window.
func ModelWindow(msgs []*models.Message) []*models.Message {
	marker := LatestSummarySeq(msgs)
	out := make([]*models.Message, 0, len(msgs))
	for _, msg := range msgs {
		if !msg.ModelVisible {
			continue
		}
		if msg.Seq < marker {
			continue
		}
		out = append(out, msg)
	}
	return out
}
