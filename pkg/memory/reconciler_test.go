package memory_test

import (
	"context"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/theapemachine/nire/pkg/memory"
)

func TestReconciler(t *testing.T) {
	Convey("Given memories stored while the graph was down", t, func() {
		ctx := context.Background()
		fx := newFixture(t)
		fx.graph.down.Store(true)

		writer := fx.writer()
		first, err := writer.Ingest(ctx, memory.Turn{Text: "I love hiking in Colorado"})
		So(err, ShouldBeNil)
		second, err := writer.Ingest(ctx, memory.Turn{Text: "My name is Ada"})
		So(err, ShouldBeNil)

		reconciler := fx.reconciler(t)

		Convey("When the graph comes back", func() {
			fx.graph.down.Store(false)

			report, err := reconciler.RunOnce(ctx)
			So(err, ShouldBeNil)

			Convey("Then every pending write lands and the flags clear", func() {
				So(report, ShouldResemble, memory.ReconcileReport{Attempted: 2, Synced: 2})

				for _, id := range []string{first.ID, second.ID} {
					item, err := fx.vector.Get(ctx, id)
					So(err, ShouldBeNil)
					So(item.GraphSyncPending, ShouldBeFalse)
				}

				n, _ := fx.queue.Len(ctx)
				So(n, ShouldEqual, 0)

				stats, _ := fx.graph.Stats(ctx)
				So(stats.Memories, ShouldEqual, 2)
				So(stats.Relations, ShouldEqual, 1)
				So(int(fx.metrics.Reconciled), ShouldEqual, 2)
			})
		})

		Convey("When the graph is still down", func() {
			report, err := reconciler.RunOnce(ctx)
			So(err, ShouldBeNil)

			Convey("Then the writes go back on the queue with another attempt", func() {
				So(report.Requeued, ShouldEqual, 2)

				pending, _ := fx.queue.Dequeue(ctx, 0)
				So(pending, ShouldHaveLength, 2)

				for _, p := range pending {
					So(p.Attempts, ShouldEqual, 2)
					So(p.Item.GraphSyncPending, ShouldBeTrue)
				}
			})
		})

		Convey("When a pass finds nothing left to do", func() {
			fx.graph.down.Store(false)
			_, err := reconciler.RunOnce(ctx)
			So(err, ShouldBeNil)

			report, err := reconciler.RunOnce(ctx)

			Convey("Then nothing happens", func() {
				So(err, ShouldBeNil)
				So(report, ShouldResemble, memory.ReconcileReport{})
			})
		})
	})
}

func TestReconcilerRecoversFlaggedItems(t *testing.T) {
	Convey("Given memories flagged in the vector store while the graph was down", t, func() {
		ctx := context.Background()
		fx := newFixture(t)
		fx.graph.down.Store(true)

		writer := fx.writer()
		first, err := writer.Ingest(ctx, memory.Turn{Text: "I love hiking in Colorado"})
		So(err, ShouldBeNil)
		second, err := writer.Ingest(ctx, memory.Turn{Text: "My name is Ada"})
		So(err, ShouldBeNil)

		// A restart with an in-memory queue starts from nothing.
		fx.queue = memory.NewMemoryQueue()
		fx.graph.down.Store(false)

		assertRecovered := func(report memory.ReconcileReport) {
			So(report, ShouldResemble, memory.ReconcileReport{Attempted: 2, Synced: 2})

			for _, id := range []string{first.ID, second.ID} {
				item, err := fx.vector.Get(ctx, id)
				So(err, ShouldBeNil)
				So(item.GraphSyncPending, ShouldBeFalse)
			}

			pending, err := fx.vector.Pending(ctx, 10)
			So(err, ShouldBeNil)
			So(pending, ShouldBeEmpty)
		}

		Convey("When a reconciler over the fresh queue rebuilds with the writer", func() {
			report, err := fx.reconciler(t, memory.WithRebuilder(writer.Rebuild)).RunOnce(ctx)
			So(err, ShouldBeNil)

			Convey("Then the graph gets the full write back, relations included", func() {
				assertRecovered(report)

				stats, _ := fx.graph.Stats(ctx)
				So(stats.Memories, ShouldEqual, 2)
				So(stats.Relations, ShouldEqual, 1)
			})
		})

		Convey("When a reconciler over the fresh queue uses the default rebuild", func() {
			report, err := fx.reconciler(t).RunOnce(ctx)
			So(err, ShouldBeNil)

			Convey("Then the memories are linked to their stored entities", func() {
				assertRecovered(report)

				stats, _ := fx.graph.Stats(ctx)
				So(stats.Memories, ShouldEqual, 2)
				So(stats.Entities, ShouldBeGreaterThanOrEqualTo, len(first.Entities))
			})
		})

		Convey("When the graph fails again during recovery", func() {
			fx.graph.down.Store(true)

			report, err := fx.reconciler(t).RunOnce(ctx)
			So(err, ShouldBeNil)

			Convey("Then the rebuilt writes land on the queue", func() {
				So(report.Requeued, ShouldEqual, 2)

				n, _ := fx.queue.Len(ctx)
				So(n, ShouldEqual, 2)
			})

			Convey("Then the next pass takes them from the queue without duplicates", func() {
				fx.graph.down.Store(false)

				report, err := fx.reconciler(t).RunOnce(ctx)
				So(err, ShouldBeNil)
				assertRecovered(report)
			})
		})
	})
}
