// Package storage wraps a go-billy filesystem rooted at a category save path.
//
// Every write goes to a uniquely named temporary file in the destination
// directory and is renamed into place once fully written, so a crash never
// leaves a truncated file under a final name. Concurrent writers of the same
// path each get their own temporary file; the last rename wins.
//
// Usage:
//
//	fs := storage.NewOS("./pixiv/follow", 8192)
//	n, err := fs.WriteAtomic("illusts/Alice_42/sunset_1_p0.png", body)
package storage
