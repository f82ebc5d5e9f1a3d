/*
Package leafstore implements the read path of a log-structured key/value
store whose key space is partitioned into leaves. Each leaf is a sequence of
small, immutable, sorted mini-runs that were appended to shared segments over
time. A leaf index, an ordered map of leaf separator keys to leaf index
entries, maps a user key to the mini-runs that may contain it. Lookups
consult those mini-runs newest first.

Data Structure Documentation

Leaf index entry

A leaf index entry lists the mini-runs of one leaf in insertion order. Each
mini-run index entry is followed by its length, so the entry can be walked
from the tail without a separate directory.

    +------------+----------------+-----+--------------+------------------+--------------------------+
    | mini-run 0 | len 0 (4 bytes)| ... | mini-run n-1 | len n-1 (4 bytes)| number of runs (4 bytes) |
    +------------+----------------+-----+--------------+------------------+--------------------------+

Mini-run index entry

    +---------------------------+-------------------------+-----------------------------+------------------------+
    | segment number (4 bytes)  |  run number (4 bytes)   | block index len (4 bytes)   | filter len (4 bytes)   |
    +---------------------------+-------------------------+-----------------------------+------------------------+
    | block index (varlen)      |  filter (varlen)        |
    +---------------------------+-------------------------+

All fixed-width integers are little-endian.

Internal keys

Mini-runs store internal keys: the user key followed by an 8-byte trailer of
seq<<8|kind. Internal keys sort by ascending user key and descending sequence
number, so the newest version of a key comes first.
*/
package leafstore
