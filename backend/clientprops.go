package qsync

// clientPropertiesProcessor stores properties of the client environment:
//
//	<dir proc="ClientProperties">
//	  <p n="screenWidth" t="i">1920</p>
//	  <p n="locale">en-GB</p>
//	</dir>
//
// t names the wire type of the value and defaults to a string.
type clientPropertiesProcessor struct{}

func (clientPropertiesProcessor) Process(ctx *Context, dir *Element) error {
	for _, el := range dir.ChildrenNamed(propertyElement) {
		name := el.Attr("n")
		wireType, ok := el.LookupAttr("t")
		if !ok {
			wireType = "s"
		}

		peer, _ := ctx.PropertyPeers.PeerForName(wireType)
		if peer == nil {
			ctx.warn("no peer available for client property", "property", name, "type", wireType)
			propertiesSkipped.WithLabelValues(skipNoPeer).Inc()
			continue
		}
		value, err := peer.Decode(ctx, nil, el)
		if err != nil {
			return syncError("decode client property "+name, err)
		}
		ctx.UserInstance.ClientProperties[name] = value
	}
	return nil
}

// focusProcessor records the component focused on the client. An empty id
// means nothing has focus.
//
//	<dir proc="CFocus"><focus i="c3"/></dir>
type focusProcessor struct{}

func (focusProcessor) Process(ctx *Context, dir *Element) error {
	el := dir.Child("focus")
	if el == nil {
		return nil
	}

	var c Component
	if id := el.Attr("i"); id != "" {
		var err error
		if c, err = ctx.UserInstance.ComponentByRenderID(id); err != nil {
			return syncError("resolve focus", err)
		}
	}
	if err := ctx.UserInstance.SetFocusedComponent(c); err != nil {
		return syncError("set focus", err)
	}
	return nil
}
