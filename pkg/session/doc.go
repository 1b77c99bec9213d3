/*
Package session implements session management and persistence orchestration.

It serializes concurrent access to individual suggestion sessions, integrating
per-process mutexes with optional distributed locking so that multiple replicas
can share one session store safely.
*/
package session
