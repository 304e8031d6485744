package fswatcher

// reconcile compares the previously recorded metadata of a child against its
// current metadata and decides which event, if any, to enqueue.
//
// Directory mtime churn is deliberately not surfaced as change: a directory's
// own timestamp advances whenever entries inside it come and go, and those
// entries already produce their own events.
func reconcile(prev FileInfo, prevOK bool, curr FileInfo, currOK bool) (EventType, bool) {
	switch {
	case !prevOK && currOK:
		return EventAdd, true
	case prevOK && currOK:
		if curr.Kind == KindDirectory {
			return 0, false
		}
		return EventChange, true
	case prevOK && !currOK:
		return EventRemove, true
	default:
		return 0, false
	}
}

// pendingEvent is one slot of the debounced emission queue.
type pendingEvent struct {
	typ  EventType
	info FileInfo
}

// mergePending folds a newly reconciled event into the pending slot for the
// same path. The second return is false when the slot must be dropped
// entirely (an added file that was removed before it was ever announced).
//
//	pending \ next |  add    | change | remove
//	---------------+---------+--------+--------
//	(none)         |  add    | change | remove
//	add            |  add    | add    | (drop)
//	change         |  change | change | remove
//	remove         |  change | change | remove
func mergePending(pending *pendingEvent, next EventType, info FileInfo) (pendingEvent, bool) {
	if pending == nil {
		return pendingEvent{typ: next, info: info}, true
	}
	switch pending.typ {
	case EventAdd:
		if next == EventRemove {
			return pendingEvent{}, false
		}
		return pendingEvent{typ: EventAdd, info: info}, true
	case EventChange:
		if next == EventRemove {
			return pendingEvent{typ: EventRemove, info: info}, true
		}
		return pendingEvent{typ: EventChange, info: info}, true
	case EventRemove:
		if next == EventRemove {
			return pendingEvent{typ: EventRemove, info: info}, true
		}
		// The consumer already knows the path, so a re-appearance after a
		// pending remove surfaces as a change.
		return pendingEvent{typ: EventChange, info: info}, true
	default:
		return pendingEvent{typ: next, info: info}, true
	}
}
