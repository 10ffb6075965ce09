// Package gravity manages the process lifecycle of a multi-service
// Galaxy instance across interchangeable backend process managers.
//
// An instance is described once in a YAML configuration file; gravity
// derives the service set (web server, background workers, periodic
// scheduler, auxiliary proxy, optional reports and upload servers),
// generates the active backend's native configuration, and drives
// lifecycle transitions uniformly:
//
//	cfg, err := gravity.LoadConfig("galaxy.yml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	orch, err := gravity.NewOrchestrator(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	res := orch.Update(ctx, false) // generate backend configuration
//	res = orch.Start(ctx)          // start and verify readiness
//
// # Backends
//
// Two backend variants are supported behind the ProcessManager
// interface, selected once at configuration time:
//
//   - supervisor (reconciling): one supervisord process tree owns every
//     service; stopping the tree stops everything with a single terminal
//     event and logs accumulate under the state directory.
//   - systemd (unit-based): each service is an independent
//     galaxy-<name>.service unit; logs live in the journal, scoped by
//     unit name and time.
//
// The orchestrator treats both identically except for stop confirmation:
// the reconciling backend signals completion with a terminal marker in
// its output, while the unit-based backend is confirmed by polling the
// status snapshot until nothing reports running.
//
// # Readiness
//
// A started service is not necessarily ready. The Verifier polls each
// service's readiness signal, an HTTP probe or a log marker, until it
// succeeds or a bounded deadline elapses, and collects the service's log
// for diagnosis on timeout. The failing process is left running so an
// operator can inspect it.
package gravity
