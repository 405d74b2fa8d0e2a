// parley is the terminal client for parley agent servers: interactive chat
// over the streaming protocol, session multiplexing, and conversation
// history browsing.
package main

func main() {
	Execute()
}
