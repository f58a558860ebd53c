/*
Package procexit reports every process that exits on a Windows machine,
using the process events of a real-time kernel trace session.

A Monitor owns one kernel session (the NT Kernel Logger by default, with the
process enable flag) and one consumer. Every process end record is decoded
on the consumer worker and published to the subscribers, in the order ETW
delivers them:

	m := procexit.NewMonitor(procexit.DefaultConfig())
	unsubscribe := m.Subscribe(func(e procexit.DecodedExit) {
		fmt.Println(e.PID, e.ExitStatus, e.ImageName)
	})
	defer unsubscribe()

	if err := m.Start(); err != nil {
		// ERROR_ACCESS_DENIED: not elevated.
		return err
	}
	defer m.Stop()

Subscribers run on the worker goroutine. Blocking there stalls the trace and
ETW drops buffers once they fill up.

The payload layout of the Process class depends on the schema version of the
event (1 to 4) and on the pointer width of the machine that logged it. Later
versions are decoded with the version 4 layout on a best effort basis; such
exits are counted and reported on the diagnostics channel.
*/
package procexit
