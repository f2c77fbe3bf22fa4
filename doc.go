/*

Package bully implements leader election over a fixed set of cluster nodes
using the classic bully algorithm, with heartbeat based failure detection and
a master driven green/red partitioning of the live nodes.

This package is intended to be embeddable in any application run as a cluster
of coordinating instances: every instance calls MakeNode with the same node
list and its own index, and the package keeps exactly one master elected (the
highest live index wins), detects silent peers, and maintains the color
partition as membership changes.

A ready to run daemon wrapping the package is provided under cmd/bullyd.

*/
package bully
