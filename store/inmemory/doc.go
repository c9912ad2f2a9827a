// Package inmemory houses volatile implementations of the core repository
// ports, storing entities in process local maps. The interfaces themselves
// live in the core package to centralize domain contracts; keeping only
// implementations here prevents higher level packages from depending on
// concrete storage. Each returned entity is cloned to prevent external
// mutation of internal state. Best suited for tests and ephemeral demos;
// use store/sqlite for durability.
package inmemory
