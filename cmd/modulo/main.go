// modulo is an offline-first notes tool: notes live in a local SQLite
// database, edits queue in an outbox, and a sync round trip reconciles
// them with a server that any number of devices share.
package main

func main() {
	Execute()
}
