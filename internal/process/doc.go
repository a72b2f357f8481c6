// Package process supervises the fieldmesh component binaries when the demo
// runs in network mode.
//
// A Manager owns one child process: it starts it in its own process group,
// logs its output line by line, probes its health, and restarts it with
// exponential backoff when it exits or stops answering. A Group starts
// several Managers in order, waiting for each to report healthy before the
// next starts, and stops them in reverse order.
//
//	g := process.NewGroup(logger)
//	g.Add(process.Config{
//	    Name:        "environment",
//	    Binary:      "bin/environment",
//	    Args:        []string{"-mode", "network", "-port", "5454"},
//	    HealthCheck: process.HTTPHealth(client, "127.0.0.1:5454"),
//	})
//	if err := g.Start(ctx); err != nil {
//	    return err
//	}
//	defer g.Stop()
package process
