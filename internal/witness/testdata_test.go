package witness

// Module documents shared by the graph tests.

const scenarios = `
name: scenarios
globals:
  - {name: a, type: i8}
  - {name: b, type: i8}
functions:
  - name: loaded
    type: "i8 (i8**)"
    params: [pp]
    blocks:
      - name: entry
        instrs:
          - {op: load, name: p, type: "i8*", args: ["%pp"]}
          - {op: load, name: v, type: i8, args: ["%p"]}
          - {op: ret, args: ["%v"]}
  - name: selected
    type: "i8 (i8*, i8*, i1)"
    params: [p0, p1, c]
    blocks:
      - name: entry
        instrs:
          - {op: select, name: p2, type: "i8*", args: ["%c", "%p0", "%p1"]}
          - {op: load, name: v, type: i8, args: ["%p2"]}
          - {op: ret, args: ["%v"]}
  - name: same
    type: "i8 (i8*, i1)"
    params: [p, c]
    blocks:
      - name: entry
        instrs:
          - {op: select, name: s, type: "i8*", args: ["%c", "%p", "%p"]}
          - {op: load, name: v, type: i8, args: ["%s"]}
          - {op: ret, args: ["%v"]}
  - name: walk
    type: "void (i8*, i8*)"
    params: [p, end]
    blocks:
      - name: entry
        instrs:
          - {op: br, targets: [loop]}
      - name: loop
        instrs:
          - {op: phi, name: q, type: "i8*", incoming: [["%p", entry], ["%q.next", loop]]}
          - {op: load, name: c, type: i8, args: ["%q"]}
          - {op: gep, name: q.next, type: "i8*", args: ["%q", "1"]}
          - {op: icmp, name: done, type: i1, pred: eq, args: ["%q.next", "%end"]}
          - {op: br, args: ["%done"], targets: [exit, loop]}
      - name: exit
        instrs:
          - {op: ret}
  - name: swap
    type: "void (i8*, i8*, i1)"
    params: [a, b, c]
    blocks:
      - name: entry
        instrs:
          - {op: br, targets: [loop]}
      - name: loop
        instrs:
          - {op: phi, name: x, type: "i8*", incoming: [["%a", entry], ["%y", loop]]}
          - {op: phi, name: y, type: "i8*", incoming: [["%b", entry], ["%x", loop]]}
          - {op: load, name: lx, type: i8, args: ["%x"]}
          - {op: br, args: ["%c"], targets: [loop, exit]}
      - name: exit
        instrs:
          - {op: ret}
  - name: outflow
    type: "i8* (i8*, i8**)"
    params: [p, slot]
    blocks:
      - name: entry
        instrs:
          - {op: bitcast, name: cp, type: "i8*", args: ["%p"]}
          - {op: gep, name: g, type: "i8*", args: ["%p", "4"]}
          - {op: gep, name: z, type: "i8*", args: ["%p", "0"]}
          - {op: store, args: ["%cp", "%slot"]}
          - {op: store, args: ["%g", "%slot"]}
          - {op: ret, args: ["%z"]}
  - name: constsel
    type: "i8 ()"
    blocks:
      - name: entry
        instrs:
          - {op: load, name: v, type: i8, args: ["select:i8*(true, @a, @b)"]}
          - {op: ret, args: ["%v"]}
  - name: constgep
    type: "i8 ()"
    blocks:
      - name: entry
        instrs:
          - {op: load, name: v, type: i8, args: ["gep:i8*(@a, 0)"]}
          - {op: ret, args: ["%v"]}
`
