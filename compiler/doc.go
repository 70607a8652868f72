/*
Package compiler turns machine graphs into ARM instruction streams.

Graph (graph) ->
	lower ->
Machine Graph (graph, no representation changes) ->
	sched ->
Basic Blocks (sched) ->
	back ->
Instruction Stream (asm, asm/arm) ->
	register allocation, code emission (not here)

Graphs are built with sched.Assembler or read from TOML files by gfile.
eval interprets a graph before or after lowering.
*/
package compiler
