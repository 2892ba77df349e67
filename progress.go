package main

import (
	"github.com/maxsupermanhd/SlideChunk/preprocess"
)

// ProgressBroadcaster fans preprocessing progress out to subscribers.
// Runs that are still going are replayed to new subscribers.
type ProgressBroadcaster struct {
	stopCh    chan struct{}
	publishCh chan preprocess.Progress
	subCh     chan chan preprocess.Progress
	unsubCh   chan chan preprocess.Progress
}

func NewBroadcaster() *ProgressBroadcaster {
	return &ProgressBroadcaster{
		stopCh:    make(chan struct{}),
		publishCh: make(chan preprocess.Progress, 64),
		subCh:     make(chan chan preprocess.Progress, 1),
		unsubCh:   make(chan chan preprocess.Progress, 1),
	}
}

func (b *ProgressBroadcaster) Start() {
	subs := map[chan preprocess.Progress]struct{}{}
	runs := map[string]preprocess.Progress{}
	for {
		select {
		case <-b.stopCh:
			return
		case msgCh := <-b.subCh:
			subs[msgCh] = struct{}{}
			for _, r := range runs {
				select {
				case msgCh <- r:
				default:
				}
			}
		case msgCh := <-b.unsubCh:
			delete(subs, msgCh)
		case msg := <-b.publishCh:
			if msg.Phase == preprocess.PhaseDone || msg.Phase == preprocess.PhaseFailed {
				delete(runs, msg.RunID)
			} else {
				runs[msg.RunID] = msg
			}
			for msgCh := range subs {
				select {
				case msgCh <- msg:
				default:
				}
			}
		}
	}
}

func (b *ProgressBroadcaster) Stop() {
	close(b.stopCh)
}

func (b *ProgressBroadcaster) Subscribe() chan preprocess.Progress {
	msgCh := make(chan preprocess.Progress, 16)
	select {
	case b.subCh <- msgCh:
	case <-b.stopCh:
	}
	return msgCh
}

func (b *ProgressBroadcaster) Unsubscribe(msgCh chan preprocess.Progress) {
	select {
	case b.unsubCh <- msgCh:
	case <-b.stopCh:
	}
}

// Publish never blocks preprocessing, chunk updates are dropped when the
// broadcaster falls behind. Terminal phases are always delivered.
func (b *ProgressBroadcaster) Publish(msg preprocess.Progress) {
	if msg.Phase == preprocess.PhaseDone || msg.Phase == preprocess.PhaseFailed {
		select {
		case b.publishCh <- msg:
		case <-b.stopCh:
		}
		return
	}
	select {
	case b.publishCh <- msg:
	default:
	}
}
