// Package core contains the shared data model of the agent engine: turns,
// function calls and results, sessions and the session store contract. All
// other packages depend on core; core depends on nothing but logging.
package core
