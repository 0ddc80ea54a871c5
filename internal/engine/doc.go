// Package engine runs a definition end to end.
//
// A run resolves the definition's service to a cached driver, fetches the
// raw records, maps them with the definition's rules and reconciles the
// result into the target table. The existing-row index is read once per
// run, before the first write.
//
// Run Flow:
// 1. Target table and rules are validated
// 2. The driver is resolved through the identity cache
// 3. Typed fetch options are coerced, then records are fetched
// 4. Records are mapped (optionally in parallel, output order is stable)
// 5. The target table is created or widened, and the index loaded
// 6. Records are reconciled and written
// 7. The run is appended to sync history
//
// Preview stops after step 4 and writes nothing.
package engine
