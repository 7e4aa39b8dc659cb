package redisq

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	mPushed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shardq_messages_pushed_total",
			Help: "Messages written to a shard.",
		},
		[]string{"queue", "shard"},
	)
	mPopped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shardq_messages_popped_total",
			Help: "Messages leased from a shard.",
		},
		[]string{"queue", "shard"},
	)
	mAcked = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shardq_messages_acked_total",
			Help: "Leased messages acknowledged.",
		},
		[]string{"queue"},
	)
	mRequeued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shardq_messages_requeued_total",
			Help: "Expired leases returned to the ready set.",
		},
		[]string{"queue", "shard"},
	)
	mShardMessages = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "shardq_shard_messages",
			Help: "Messages per queue, shard and state as of the last size query.",
		},
		[]string{"queue", "shard", "state"},
	)
	mOwnershipChanges = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shardq_shard_ownership_changes_total",
			Help: "Shards that changed owner after a membership change.",
		},
	)
)
