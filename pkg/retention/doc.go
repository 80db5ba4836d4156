// Package retention prunes old request logs and switch events on a cron
// schedule.
//
// The Scheduler is owned by the application context and has two states:
// stopped, and running with a cancel function for its jobs. Stop cancels the
// context handed to in-flight prune jobs and waits for them to return.
//
//	pruner := retention.NewPruner(store, cfg.Retention)
//	sched := retention.NewScheduler(pruner, cfg.Retention.Schedule)
//	if err := sched.Start(ctx); err != nil {
//		return err
//	}
//	defer sched.Stop()
//
// Pruning can also be run by hand with Pruner.Prune.
package retention
