// Package reaper implements the Port Reaper: before services are launched,
// every process bound to one of the managed ports is found through the OS
// socket table and killed with SIGKILL.
//
// The old deploy script fired `kill -9` and moved on. Reap instead re-reads
// the socket table after killing and reports any survivors, so "the port
// is free" is checked rather than assumed. A race with an unrelated process
// grabbing the port afterwards remains possible and is not handled.
package reaper
