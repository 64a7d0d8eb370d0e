package room

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	roomsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "roomkeeper_rooms_created_total",
		Help: "Number of rooms provisioned, event rooms included.",
	})
	roomsDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "roomkeeper_rooms_deleted_total",
		Help: "Number of rooms torn down.",
	})
	roomsRecovered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "roomkeeper_rooms_recovered_total",
		Help: "Number of rooms rebuilt from snapshots at startup.",
	})
	roomRecoveryFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "roomkeeper_room_recovery_failures_total",
		Help: "Number of snapshots discarded during recovery.",
	})
	memberMovesFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "roomkeeper_member_moves_failed_total",
		Help: "Number of voice-channel member moves the platform rejected.",
	})
	liveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "roomkeeper_live_rooms",
		Help: "Rooms currently tracked by the manager.",
	})
)
