// Package livedoc is an embedded Go client for livedoc: typed documents of a class model
// stored in memory or in Redis/Valkey (JSON module), with live queries that stay
// consistent with every transaction committed through the client.
//
//	client, _ := livedoc.New(ctx,
//	    livedoc.WithRedis("localhost:6379", ""),
//	    livedoc.WithModelFile("model.yaml"),
//	)
//	defer client.Close()
//
//	id, _ := client.Create(ctx, "task", livedoc.Attrs{"title": "Ship", "status": "open"})
//	_ = client.Update("task", id).
//	    Push(livedoc.At("tasks"), livedoc.Attrs{"name": "review"}).
//	    Set(livedoc.At("tasks").Match(livedoc.Query{"name": "review"}), livedoc.Attrs{"done": true}).
//	    Commit(ctx)
//
//	stop, _ := client.Watch(ctx, "task", livedoc.Query{"status": "open"},
//	    livedoc.FindOptions{Limit: 20, Sort: []livedoc.Sort{livedoc.Desc("rank")}},
//	    func(s livedoc.Snapshot) { render(s.Docs) },
//	)
//	defer stop()
package livedoc
