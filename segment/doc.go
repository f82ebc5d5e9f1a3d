/*
Package segment implements append-only segment files that hold a series of
immutable mini-runs of internal keys. It is the storage collaborator of the
leaf store: the block index and filter of each mini-run are not kept in the
segment but returned to the caller on FinishMiniRun, who stores them in the
leaf index.

Data Structure Documentation

Segment

A segment contains a series of mini-runs followed by a table of run handles
and a segment footer.

    Segment layout:
    +------------+---------+------------+-------------+----------------+
    | mini-run 0 |   ...   | mini-run n | run handles | segment footer |
    +------------+---------+------------+-------------+----------------+

    Run handles:
    +-------------------------+-------+-------------------------+
    | run 0 offset (8 bytes)  |  ...  | run n offset (8 bytes)  |
    +-------------------------+-------+-------------------------+

    Segment footer:
    +-------------------------------+------------------+
    | run handles size (8 bytes)    |  magic (8 bytes) |
    +-------------------------------+------------------+

Mini-run

A mini-run is a series of blocks. Its block index is stored externally:

    Block index:
    +--------------------------+------------+-------------------+-----------------+-------+
    | last key len 1 (varint)  | last key 1 | offset 1 (varint) | size 1 (varint) |  ...  |
    +--------------------------+------------+-------------------+-----------------+-------+

Block

A block comprises of a series of sections, followed by a section
index and a single-byte compression type indicator.

    Block layout:
    +-----------+---------+-----------+---------------+---------------------------+
    | section 1 |   ...   | section n | section index | compression type (1-byte) |
    +-----------+---------+-----------+---------------+---------------------------+

    Section index:
    +----------------------------+-------+----------------------------+-------------------------------+
    | section offset 2 (4 bytes) |  ...  | section offset n (4 bytes) |  number of sections (4 bytes) |
    +----------------------------+-------+----------------------------+-------------------------------+

Section

A section is a series of key/value pairs. The first key of a section is stored
in full while subsequent keys share a prefix with their predecessor.

    +-----------------+-------------------+-------------------+-------------------+-----------------+-------+
    | shared (varint) | unshared (varint) | value len (varint)| key suffix        | value (varlen)  |  ...  |
    +-----------------+-------------------+-------------------+-------------------+-----------------+-------+
*/
package segment
