// Package organisation holds the tenant aggregate and its installation
// registry.
//
// An Organisation owns at most one InstalledApp per connector name, and
// each InstalledApp owns an ordered sequence of Links (the connector's
// monitored sub-resources). All mutations go through the Service, which
// serializes writes per organisation and applies merge-on-update
// semantics: partial updates never erase fields they do not supply.
//
// Relational persistence is an external collaborator behind the
// Repository interface; the merge logic here stays pure and testable.
package organisation
