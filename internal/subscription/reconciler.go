package subscription

import "github.com/kelsos/taskwatch/internal/models"

// diff splits active against tracked into ids to start and ids to stop
// tracking. Duplicates and empty ids in active are ignored; toSubscribe
// keeps the order of active and toUnsubscribe is sorted.
func diff(active []models.TaskID, tracked func(models.TaskID) bool, all []models.TaskID) (toSubscribe, toUnsubscribe []models.TaskID) {
	want := make(map[models.TaskID]struct{}, len(active))
	for _, id := range active {
		if id == "" {
			continue
		}
		if _, dup := want[id]; dup {
			continue
		}
		want[id] = struct{}{}
		if !tracked(id) {
			toSubscribe = append(toSubscribe, id)
		}
	}

	for _, id := range all {
		if _, ok := want[id]; !ok {
			toUnsubscribe = append(toUnsubscribe, id)
		}
	}
	sortIDs(toUnsubscribe)
	return toSubscribe, toUnsubscribe
}

func (m *Manager) reconcile(active []models.TaskID) {
	all := make([]models.TaskID, 0, len(m.registry.entries))
	for id := range m.registry.entries {
		all = append(all, id)
	}

	toSubscribe, toUnsubscribe := diff(active, m.registry.tracked, all)
	switch {
	case len(toSubscribe) > 0:
		m.registry.subscribe(toSubscribe)
	case m.conn.state == Disconnected && len(m.registry.entries) > len(toUnsubscribe):
		// Tasks still wanted after the channel gave up.
		m.conn.connect()
	}
	if len(toUnsubscribe) > 0 {
		m.registry.unsubscribe(toUnsubscribe)
	}
}
