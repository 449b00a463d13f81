/*
Package mvkv provides an embeddable, multi-version ordered key-value store
built on an immutable AVL tree.

Maps

A Map is immutable: Add, SetItem and Remove return a new Map that shares
every untouched subtree with the original, so old versions stay valid and
cheap to keep. A Builder batches many edits, copying a shared node only the
first time an edit reaches it, and hands back a Map with ToImmutable.
Range, Prefix and Reversed describe lazy, bounded walks that any number of
goroutines can run at once.

Versions

A Store publishes one Map at a time together with a sequence number.
Writers build their candidate Map outside any lock and publish it with a
compare-and-swap, rebuilding if another writer got there first; readers
never wait. Diff computes the operations between two versions in a single
merge pass, and ApplyPatch replays them.

Durability

A Log records each committed batch, and periodic snapshots, as checksummed
records in a Sink. Any retained version can be rebuilt with GetSnapshot
from the nearest earlier snapshot. DB wires a Store to a Log backed by a
file; Export and Import move full dumps through a Persist such as
persist/file or persist/s3.
*/
package mvkv
