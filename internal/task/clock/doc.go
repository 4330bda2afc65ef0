// Package clock fires scheduled runs. It owns no execution state: on every
// tick it compares each job's next instant with the current time and asks
// the engine for a scheduled run.
package clock
