package dynamics

// IsAncestorOfBody reports whether changing dof's position moves body. Both
// must belong to the same skeleton and kinematic tree, and the dof must sit on
// the joint chain from body up to its root.
func IsAncestorOfBody(dof *Dof, body *BodyNode) bool {
	if dof == nil || body == nil {
		panic("dynamics: nil dof or body in ancestor query")
	}
	if dof.skel != body.skel || dof.skel.name != body.skel.name {
		return false
	}
	if dof.TreeIndex() != body.tree {
		return false
	}
	if dof.joint.child > body.index {
		return false
	}
	for b := body; b != nil; b = b.Parent() {
		if b.ParentJoint() == dof.joint {
			return true
		}
	}
	return false
}

// IsAncestorOfDof reports whether changing parent's position moves the world
// screw axis of child. Within one joint the earlier dof is the ancestor.
func IsAncestorOfDof(parent, child *Dof) bool {
	if parent == nil || child == nil {
		panic("dynamics: nil dof in ancestor query")
	}
	if parent.skel != child.skel {
		return false
	}
	if parent.joint == child.joint {
		return parent.indexInJoint < child.indexInJoint
	}
	up := child.joint.ParentBodyNode()
	if up == nil {
		return false
	}
	return IsAncestorOfBody(parent, up)
}

// DofAncestors returns the skeleton indices of every dof whose motion changes
// d's world screw axis.
func (s *Skeleton) DofAncestors(d *Dof) []int {
	return s.dofAncestors[d.index]
}
