// Package watcher keeps the serving process's drain trigger in step with the
// deferred event queue.
//
// The installer process writes the queue document and exits; the serving
// process only drains it when its trigger is armed. The Watcher observes the
// queue directory with fsnotify, falling back to a periodic poll, and
// re-arms the trigger whenever the document holds entries.
//
// Example usage:
//
//	q := queue.New(queue.NewFileStorage(path))
//	trigger := events.NewTrigger(dispatcher, logger)
//
//	w, err := watcher.New(path, q, trigger, logger)
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := w.Start(); err != nil {
//		log.Fatal(err)
//	}
//	defer w.Stop()
package watcher
